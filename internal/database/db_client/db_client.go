package db_client

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(host, port, user, pass, database string) (*sql.DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		user, pass, host, port, database,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(30 * time.Second)
	return db, db.Ping()
}

// Migrate creates the schema when it does not exist yet. Idempotent, run at boot.
func Migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id     TEXT PRIMARY KEY,
		invite_code TEXT NOT NULL UNIQUE,
		room_type   TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id   TEXT NOT NULL REFERENCES rooms(room_id),
		name      TEXT NOT NULL,
		email     TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (room_id, email)
	);

	CREATE TABLE IF NOT EXISTS predictions (
		room_id    TEXT NOT NULL,
		role       TEXT NOT NULL,
		prediction DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (room_id, role)
	);

	CREATE TABLE IF NOT EXISTS comments (
		id         BIGSERIAL PRIMARY KEY,
		room_id    TEXT NOT NULL,
		comment    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS actions (
		id          BIGSERIAL PRIMARY KEY,
		room_id     TEXT NOT NULL,
		user_name   TEXT NOT NULL,
		description TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

	_, err := db.ExecContext(ctx, schema)
	return err
}
