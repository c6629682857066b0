package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	LabIDKey  contextKey = "lab_id"
	DBConnKey contextKey = "db_conn"

	LabHeader = "X-Lab-ID"
)

var labIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,48}$`)

// ValidLabID reports whether id can be used as a schema suffix.
func ValidLabID(id string) bool { return labIDPattern.MatchString(id) }

// SchemaName returns the Postgres schema holding a lab's data.
func SchemaName(labID string) string { return "lab_" + labID }

// LabMiddleware resolves the lab of the request, pins a pooled connection
// whose search_path points at the lab schema, and stores it in the context.
func LabMiddleware(pool *pgxpool.Pool, defaultLab string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			labID := extractLabID(c, defaultLab)
			if !ValidLabID(labID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid lab identifier")
			}

			ctx, release, err := AcquireLab(c.Request().Context(), pool, labID)
			if err != nil {
				if errors.Is(err, errSearchPath) {
					return echo.NewHTTPError(http.StatusInternalServerError, "lab resolution failed")
				}
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("lab_id", labID)

			return next(c)
		}
	}
}

var errSearchPath = errors.New("set search_path")

// AcquireLab pins a pooled connection to the schema of labID and returns a
// context carrying it. release resets the search_path and returns the
// connection to the pool.
func AcquireLab(ctx context.Context, pool *pgxpool.Pool, labID string) (context.Context, func(), error) {
	if !ValidLabID(labID) {
		return nil, nil, fmt.Errorf("invalid lab identifier: %s", labID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(labID))); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("%w: %v", errSearchPath, err)
	}

	release := func() {
		// the next borrower must not inherit this lab's schema
		_, _ = conn.Exec(context.Background(), "RESET search_path")
		conn.Release()
	}
	ctx = context.WithValue(ctx, LabIDKey, labID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, release, nil
}

// extractLabID prefers the token claim, then the X-Lab-ID header, then the
// lab_id query parameter. Once an auth middleware has set the claim, the
// header and query are ignored, even when the claim is empty.
func extractLabID(c echo.Context, defaultLab string) string {
	if id, ok := c.Get("jwt_lab_id").(string); ok {
		return id
	}
	if id := c.Request().Header.Get(LabHeader); id != "" {
		return id
	}
	if id := c.QueryParam("lab_id"); id != "" {
		return id
	}
	return defaultLab
}

// ConnFromContext retrieves the lab-scoped connection from the context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// LabFromContext retrieves the lab ID from the context.
func LabFromContext(ctx context.Context) string {
	id, _ := ctx.Value(LabIDKey).(string)
	return id
}

// CreateLabSchema creates the schema of a lab and applies migrations from
// migrations when it is non-nil.
func CreateLabSchema(ctx context.Context, pool *pgxpool.Pool, labID string, migrations fs.FS) error {
	if !ValidLabID(labID) {
		return fmt.Errorf("invalid lab identifier: %s", labID)
	}
	schema := SchemaName(labID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrations != nil {
		if _, err := NewMigrator(pool, migrations).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
