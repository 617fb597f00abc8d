package journal

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// embeddedMigrations contains the journal schema's SQL migration files,
// compiled into the binary the way the teacher embeds its own migrations/
// directory rather than requiring it on disk at runtime.
//
//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies every pending journal migration against dsn using
// goose, going through database/sql via the pgx stdlib adapter since goose
// does not speak pgxpool directly.
func RunMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("journal: open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embeddedMigrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("journal: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("journal: run migrations: %w", err)
	}
	return nil
}
