package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// Ordered tables carry prev_id/next_id pointing at rows of the same table.
// The constraints are deferred so a relink may pass through an asymmetric
// state inside one transaction.
func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS communities (
            id SERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            owner_id INT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS participants (
            id SERIAL PRIMARY KEY,
            community_id INT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            prev_id INT REFERENCES participants(id) DEFERRABLE INITIALLY DEFERRED,
            next_id INT REFERENCES participants(id) DEFERRABLE INITIALLY DEFERRED,
            UNIQUE(community_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS participants_user_idx ON participants(user_id);`,
		`CREATE TABLE IF NOT EXISTS roles (
            id SERIAL PRIMARY KEY,
            community_id INT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
            name TEXT NOT NULL,
            color TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
            role_id INT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
            permission TEXT NOT NULL,
            PRIMARY KEY(role_id, permission)
        );`,
		`CREATE TABLE IF NOT EXISTS participant_roles (
            participant_id INT NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
            role_id INT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
            PRIMARY KEY(participant_id, role_id)
        );`,
		`CREATE TABLE IF NOT EXISTS categories (
            id SERIAL PRIMARY KEY,
            community_id INT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
            name TEXT NOT NULL,
            prev_id INT REFERENCES categories(id) DEFERRABLE INITIALLY DEFERRED,
            next_id INT REFERENCES categories(id) DEFERRABLE INITIALLY DEFERRED
        );`,
		`CREATE INDEX IF NOT EXISTS categories_community_idx ON categories(community_id);`,
		`CREATE TABLE IF NOT EXISTS channels (
            id SERIAL PRIMARY KEY,
            community_id INT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
            category_id INT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
            name TEXT NOT NULL,
            kind TEXT NOT NULL DEFAULT 'text',
            prev_id INT REFERENCES channels(id) DEFERRABLE INITIALLY DEFERRED,
            next_id INT REFERENCES channels(id) DEFERRABLE INITIALLY DEFERRED
        );`,
		`CREATE INDEX IF NOT EXISTS channels_category_idx ON channels(category_id);`,
		`CREATE TABLE IF NOT EXISTS invitations (
            id SERIAL PRIMARY KEY,
            community_id INT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
            code TEXT NOT NULL UNIQUE,
            usage_limit INT,
            expiry TIMESTAMPTZ,
            created_by INT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS chats (
            id SERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS chat_participants (
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            role TEXT NOT NULL,
            online INT NOT NULL DEFAULT 0 CHECK (online >= 0),
            unread INT NOT NULL DEFAULT 0 CHECK (unread >= 0),
            activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(chat_id, user_id)
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS chat_participants_one_owner ON chat_participants(chat_id) WHERE role = 'OWNER';`,
		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            content TEXT NOT NULL,
            sent TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated TIMESTAMPTZ
        );`,
		`CREATE INDEX IF NOT EXISTS messages_chat_sent_idx ON messages(chat_id, sent, id);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
