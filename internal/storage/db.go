package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error ping db: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS configurations (
		sqid TEXT PRIMARY KEY,
		grp TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		location TEXT NOT NULL,
		timeout_ms INTEGER NOT NULL DEFAULT 10000,
		degradation_timeout_ms INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		headers TEXT NOT NULL DEFAULT '{}',
		comparison TEXT NOT NULL DEFAULT '',
		app_id TEXT NOT NULL DEFAULT '',
		subscription_id TEXT NOT NULL DEFAULT '',
		UNIQUE(grp, name)
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating configurations table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS pulses (
		sqid TEXT PRIMARY KEY,
		grp TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		state TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		last_elapsed_ms INTEGER NOT NULL DEFAULT 0
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating pulses table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS recent_pulses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sqid TEXT NOT NULL,
		grp TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		state TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		last_elapsed_ms INTEGER NOT NULL DEFAULT 0
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating recent_pulses table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS counters (
		sqid TEXT PRIMARY KEY,
		failures INTEGER NOT NULL DEFAULT 0,
		since INTEGER NOT NULL DEFAULT 0
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating counters table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS webhooks (
		id TEXT PRIMARY KEY,
		grp TEXT NOT NULL DEFAULT '*',
		name TEXT NOT NULL DEFAULT '*',
		url TEXT NOT NULL,
		secret TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating webhooks table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS day_containers (
		day TEXT NOT NULL,
		sqid TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (day, sqid)
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating day_containers table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS agent_containers (
		day TEXT NOT NULL,
		sqid TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (day, sqid)
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating agent_containers table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS archives (
		year TEXT NOT NULL,
		sqid TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (year, sqid)
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating archives table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS queue_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue TEXT NOT NULL,
		receipt TEXT NOT NULL,
		body TEXT NOT NULL,
		created INTEGER NOT NULL
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating queue_messages table: %w", err)
	}

	return db, nil
}
