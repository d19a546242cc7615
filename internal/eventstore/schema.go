package eventstore

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/obslog"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// expectedSchemaVersion is the schema_version row this build requires.
// Startup refuses to run against any other value, per spec §6.
const expectedSchemaVersion = 2

// OpenAndMigrate opens the SQLite database at path (built with the fts5
// build tag), runs pending numbered migrations, and verifies the resulting
// schema_version.
func OpenAndMigrate(path string, log *obslog.Logger) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, engineerr.StorageErr("open database", err)
	}
	// SQLite allows only one writer; cap the pool so the connection-pool
	// itself enforces write serialization per spec §5.
	db.SetMaxOpenConns(1)

	source := migrate.EmbedFileSystemMigrationSource{FileSystem: migrationFS, Root: "migrations"}
	n, err := migrate.Exec(db, "sqlite3", source, migrate.Up)
	if err != nil {
		db.Close()
		return nil, engineerr.StorageErr("run migrations", err)
	}
	if n > 0 {
		log.WithComponent("eventstore").Info("migrations applied", "count", n)
	}

	if err := verifySchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func verifySchemaVersion(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		return engineerr.StorageErr("read schema_version", err)
	}
	if version != expectedSchemaVersion {
		return engineerr.Internal(fmt.Sprintf("unexpected schema version %d, expected %d; refusing to start", version, expectedSchemaVersion), nil)
	}
	return nil
}
