package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// Ping reports whether the database answers within the context deadline.
func Ping(ctx context.Context, db *sqlx.DB) error {
	return db.PingContext(ctx)
}

// The users, workers and booking_assignments tables belong to the booking
// platform; they are created here only so a standalone database works.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT 'requester',
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            is_online BOOLEAN NOT NULL DEFAULT FALSE
        );`,
	`CREATE TABLE IF NOT EXISTS workers (
            id BIGSERIAL PRIMARY KEY,
            user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS booking_assignments (
            booking_id BIGINT NOT NULL,
            worker_id BIGINT NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
            PRIMARY KEY(booking_id, worker_id)
        );`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
            id BIGSERIAL PRIMARY KEY,
            booking_id BIGINT NOT NULL UNIQUE,
            requester_id BIGINT NOT NULL,
            fulfiller_id BIGINT,
            status TEXT NOT NULL DEFAULT 'active',
            last_message_at TIMESTAMPTZ,
            message_count INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            ended_at TIMESTAMPTZ
        );`,
	`CREATE INDEX IF NOT EXISTS chat_sessions_requester_idx ON chat_sessions(requester_id) WHERE status = 'active';`,
	`CREATE INDEX IF NOT EXISTS chat_sessions_fulfiller_idx ON chat_sessions(fulfiller_id) WHERE status = 'active';`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
            id BIGSERIAL PRIMARY KEY,
            session_id BIGINT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            sender_type TEXT NOT NULL,
            message_type TEXT NOT NULL DEFAULT 'text',
            content TEXT NOT NULL,
            file_url TEXT,
            file_name TEXT,
            file_size BIGINT,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            read_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages(session_id, id DESC);`,
	`CREATE TABLE IF NOT EXISTS chat_notifications (
            id BIGSERIAL PRIMARY KEY,
            session_id BIGINT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
            message_id BIGINT NOT NULL REFERENCES chat_messages(id) ON DELETE CASCADE,
            recipient_id BIGINT NOT NULL,
            sender_id BIGINT NOT NULL,
            delivered BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(message_id)
        );`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
