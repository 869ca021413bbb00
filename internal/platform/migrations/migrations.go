// Package migrations embeds the SQL schema shared by the postgres and sqlite
// backends.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Execer is satisfied by *sql.DB, *sql.Tx and *sqlx.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Source exposes the embedded migrations as a golang-migrate source driver.
func Source() (source.Driver, error) {
	return iofs.New(files, "sql")
}

// Apply executes every up migration in version order. Statements are written
// with IF NOT EXISTS so Apply is safe to run on every start.
func Apply(ctx context.Context, db Execer) error {
	src, err := Source()
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer src.Close()

	version, err := src.First()
	for err == nil {
		if err := applyVersion(ctx, db, src, version); err != nil {
			return err
		}
		version, err = src.Next(version)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("walk migrations: %w", err)
}

// Versions lists the embedded migration versions in order.
func Versions() ([]uint, error) {
	src, err := Source()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var out []uint
	version, err := src.First()
	for err == nil {
		out = append(out, version)
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return out, nil
}

func applyVersion(ctx context.Context, db Execer, src source.Driver, version uint) error {
	r, name, err := src.ReadUp(version)
	if err != nil {
		return fmt.Errorf("read migration %d: %w", version, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read migration %d: %w", version, err)
	}
	if _, err := db.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("apply migration %d (%s): %w", version, name, err)
	}
	return nil
}
