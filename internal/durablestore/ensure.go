package durablestore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
)

// EnsureDatabaseExists ensures the database named in dsn exists, creating
// it via the "postgres" maintenance database if not. Idempotent; main calls
// it on every startup. It creates only the database: the tables in
// schema.sql are applied separately.
func EnsureDatabaseExists(ctx context.Context, dsn string, logger *slog.Logger) error {
	dbName, maintenanceDSN, err := parseDSNForMaintenance(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}

	conn, err := pgx.Connect(ctx, maintenanceDSN)
	if err != nil {
		return fmt.Errorf("connect to maintenance database: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`
	if err := conn.QueryRow(ctx, query, dbName).Scan(&exists); err != nil {
		return fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		return nil
	}

	createSQL := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{dbName}.Sanitize())
	if logger != nil {
		logger.Info("creating database", slog.String("database", dbName))
	}
	if _, err := conn.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

// parseDSNForMaintenance extracts the target database name from dsn and
// returns a DSN pointing at the "postgres" maintenance database instead.
func parseDSNForMaintenance(dsn string) (dbName string, maintenanceDSN string, err error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", fmt.Errorf("invalid dsn: %w", err)
	}

	dbName = strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return "", "", fmt.Errorf("no database name in dsn path: %s", dsn)
	}
	if dbName == "postgres" || dbName == "template1" {
		return dbName, dsn, nil
	}

	u.Path = "/postgres"
	return dbName, u.String(), nil
}
