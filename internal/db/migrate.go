package db

import (
	"context"
	"database/sql"

	"github.com/geocoder89/taskhub/internal/db/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// RunMigrations brings the schema up to date at startup. goose tracks applied
// versions, so re-running on every boot is a no-op.
func RunMigrations(ctx context.Context, dbURL string) error {
	conn, err := sql.Open("pgx", dbURL)

	if err != nil {
		return err
	}

	defer conn.Close()

	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	return goose.UpContext(ctx, conn, ".")
}
