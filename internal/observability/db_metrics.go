package observability

import (
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// ObserveDB times a store operation. A nil *Prom just runs fn, so stores can
// be built without metrics in tests.
func (p *Prom) ObserveDB(backend, op string, fn func() error) error {
	if p == nil {
		return fn()
	}

	start := time.Now()
	err := fn()

	status := "ok"

	if err != nil {
		class := classifyDBErr(err)
		// not-found and conflicts are outcomes, not store failures
		switch class {
		case "not_found", "email_taken", "id_taken":
		default:
			status = "error"
		}
		p.DbErrorsTotal.WithLabelValues(backend, op, class).Inc()
	}
	p.DbQueryDuration.WithLabelValues(backend, op, status).Observe(time.Since(start).Seconds())
	return err
}

func classifyDBErr(err error) string {
	switch {
	case errors.Is(err, user.ErrNotFound):
		return "not_found"
	case errors.Is(err, user.ErrEmailTaken):
		return "email_taken"
	case errors.Is(err, user.ErrIDTaken):
		return "id_taken"
	case errors.Is(err, redis.Nil):
		return "redis_nil"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "unique_violation"
		case "40001":
			return "serialization_failure"
		case "40P01":
			return "deadlock"
		case "57014":
			return "query_canceled"
		default:
			return "pg_" + pgErr.Code
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	default:
		return "unknown"
	}
}
