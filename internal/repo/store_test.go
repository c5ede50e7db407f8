package repo

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/geocoder89/userhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_Memory(t *testing.T) {
	store, closeFn, err := Open(context.Background(), config.Config{StoreDriver: config.DriverMemory}, discardLogger(), nil)
	require.NoError(t, err)
	defer closeFn()

	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), config.Config{StoreDriver: "sqlite"}, discardLogger(), nil)
	assert.Error(t, err)
}
