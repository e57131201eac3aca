// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package journal keeps an operator event log (state changes, reconnects,
// stops) in a sqlite file shared by the rover processes.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Event kinds.
const (
	KindStarted     = "started"
	KindStopped     = "stopped"
	KindState       = "state"
	KindReconnect   = "reconnect"
	KindDegraded    = "degraded"
	KindRecovered   = "recovered"
	KindSafetyStop  = "safety_stop"
	KindLinkLost    = "link_lost"
	KindLinkRestore = "link_restored"
)

// Event is one journal row.
type Event struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	Component string    `json:"component"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
}

// Journal appends events for one component. A nil *Journal discards
// everything, which is what an empty JOURNAL_PATH gives.
type Journal struct {
	db        *sql.DB
	component string
}

// Open opens or creates the journal at path and migrates it.
func Open(path, component string) (*Journal, error) {
	if path == "" {
		return nil, nil
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal %s: %w", path, err)
	}
	return &Journal{db: db, component: component}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// m is not closed: that would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Record appends an event.
func (j *Journal) Record(ctx context.Context, kind, detail string) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (ts_unix_nanos, component, kind, detail) VALUES (?, ?, ?, ?)`,
		time.Now().UnixNano(), j.component, kind, detail)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first, across all components.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts_unix_nanos, component, kind, detail FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Component, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Time = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
