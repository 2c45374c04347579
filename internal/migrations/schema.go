package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/PortNumber53/saas-starter/internal/logger"
)

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

// Status describes the schema version recorded in the database.
type Status struct {
	Version uint
	Dirty   bool
	Fresh   bool
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending database migrations. It is safe to call multiple
// times; when the database schema is up to date, the function is a no-op.
func Up(db *sql.DB, log *logger.Logger) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	current, err := readStatus(m)
	switch {
	case err != nil:
		log.Warnw("migrations: unable to determine current version", "error", err)
	case current.Fresh:
		log.Infow("migrations: no existing migration version (fresh database)")
	default:
		log.Infow("migrations: current database schema version", "version", current.Version, "dirty", current.Dirty)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Infow("migrations: database is up to date", "version", current.Version)
			return nil
		}
		return fmt.Errorf("migrations: apply: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		log.Infow("migrations: applied migrations", "version", v)
	}
	return nil
}

// CurrentStatus reports the recorded schema version.
func CurrentStatus(db *sql.DB) (Status, error) {
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	return readStatus(m)
}

// FixDirtyDatabase clears a dirty flag left by a failed migration by forcing
// the version back to the last one that completed.
func FixDirtyDatabase(db *sql.DB, log *logger.Logger) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	st, err := readStatus(m)
	if err != nil {
		return err
	}
	if !st.Dirty {
		log.Infow("migrations: database is not dirty", "version", st.Version)
		return nil
	}

	target := int(st.Version) - 1
	if target < 1 {
		target = -1
	}
	log.Warnw("migrations: forcing dirty database", "from", st.Version, "to", target)
	if err := m.Force(target); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", target, err)
	}
	return nil
}

// ForceVersion sets the recorded version without running migrations.
func ForceVersion(db *sql.DB, version uint) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", version, err)
	}
	return nil
}

func readStatus(m *migrate.Migrate) (Status, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Fresh: true}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("migrations: read version: %w", err)
	}
	return Status{Version: v, Dirty: dirty}, nil
}
