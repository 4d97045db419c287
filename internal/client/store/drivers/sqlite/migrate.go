package sqlite

import (
	"errors"

	"github.com/aussiebroadwan/marketsync/internal/client/store/drivers/sqlite/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

// ApplyMigrations applies pending schema migrations from the embedded SQL
// files. Every partition's table is declared there, so the schema is fixed
// at startup instead of being created lazily on first use.
func (s *Store) ApplyMigrations() error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return storageErr("migrate driver", err)
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return storageErr("migrate source", err)
	}

	instance, err := migrate.NewWithInstance("iofs", source, "", driver)
	if err != nil {
		return storageErr("migrate", err)
	}

	err = instance.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return storageErr("migrate up", err)
	}

	return nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion() (uint, bool, error) {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return 0, false, storageErr("migrate driver", err)
	}

	version, dirty, err := driver.Version()
	if err != nil {
		return 0, false, storageErr("schema version", err)
	}
	if version < 0 {
		return 0, dirty, nil
	}
	return uint(version), dirty, nil
}
