package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Dialect covers the differences between the supported SQL engines.
// Queries are written with ? placeholders.
type Dialect struct {
	name     string
	driver   string
	numbered bool
}

var (
	MySQL    = Dialect{name: "mysql", driver: "mysql"}
	Postgres = Dialect{name: "postgres", driver: "pgx", numbered: true}
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driverName string) (Dialect, error) {
	switch driverName {
	case MySQL.driver:
		return MySQL, nil
	case Postgres.driver, "postgres":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unsupported sql driver %q", driverName)
}

func (d Dialect) Name() string {
	return d.name
}

func (d Dialect) DriverName() string {
	return d.driver
}

// rebind rewrites ? placeholders to $1, $2, ... for engines that need it.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlock         = 1213
	mysqlQueryInterrupted = 1317
)

// classify maps driver errors onto the domain taxonomy. Unknown errors pass
// through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrTransient) {
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry:
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		case mysqlLockWaitTimeout, mysqlDeadlock, mysqlQueryInterrupted:
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03", pgErr.Code == "57014":
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}
