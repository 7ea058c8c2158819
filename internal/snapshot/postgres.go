// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/snapshot/migrations"
)

// db is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps snapshots in two tables: one row per vehicle position
// and one row per notification.
type PostgresStore struct {
	db    db
	pool  *pgxpool.Pool
	limit int
}

// OpenPostgresStore connects to databaseURL, applies pending migrations and
// returns a store that owns the pool.
func OpenPostgresStore(ctx context.Context, databaseURL string, recentLimit int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("snapshot.OpenPostgresStore: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("snapshot.OpenPostgresStore: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	s := NewPostgresStore(pool, recentLimit)
	s.pool = pool
	return s, nil
}

// Migrate applies all pending schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("snapshot.Migrate: create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("snapshot.Migrate: run migrations: %w", err)
	}
	return nil
}

// NewPostgresStore wraps an existing connection. In tests pass a pgx.Tx for
// rollback isolation.
func NewPostgresStore(conn db, recentLimit int) *PostgresStore {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &PostgresStore{db: conn, limit: recentLimit}
}

// Get assembles the snapshot of vehicle from both tables.
func (p *PostgresStore) Get(ctx context.Context, vehicle models.VehicleID) (models.Snapshot, error) {
	const posQ = `
		SELECT lat, lng, description, observed_at, updated_at
		FROM vehicle_positions
		WHERE vehicle_id = @vehicle_id`

	s := models.Snapshot{VehicleID: vehicle, RecentNotifications: []models.NotificationEvent{}}
	found := false

	var pos models.Position
	var updatedAt time.Time
	err := p.db.QueryRow(ctx, posQ, pgx.NamedArgs{"vehicle_id": string(vehicle)}).
		Scan(&pos.Lat, &pos.Lng, &pos.Description, &pos.ObservedAt, &updatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return models.Snapshot{}, fmt.Errorf("snapshot.PostgresStore.Get: position: %w", err)
	default:
		found = true
		s.Position = &pos
		s.UpdatedAt = updatedAt
	}

	const notesQ = `
		SELECT id, type, message, created_at, recorded_at
		FROM vehicle_notifications
		WHERE vehicle_id = @vehicle_id
		ORDER BY seq DESC
		LIMIT @limit`

	rows, err := p.db.Query(ctx, notesQ, pgx.NamedArgs{"vehicle_id": string(vehicle), "limit": p.limit})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("snapshot.PostgresStore.Get: notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.NotificationEvent
		var typ string
		var recordedAt time.Time
		if err := rows.Scan(&e.ID, &typ, &e.Message, &e.CreatedAt, &recordedAt); err != nil {
			return models.Snapshot{}, fmt.Errorf("snapshot.PostgresStore.Get: scan: %w", err)
		}
		e.VehicleID = vehicle
		e.Type = models.NotificationType(typ)
		s.RecentNotifications = append(s.RecentNotifications, e)
		if recordedAt.After(s.UpdatedAt) {
			s.UpdatedAt = recordedAt
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return models.Snapshot{}, fmt.Errorf("snapshot.PostgresStore.Get: rows: %w", err)
	}

	if !found {
		return models.Snapshot{}, models.ErrVehicleNotFound
	}
	return s, nil
}

// RecordLocation upserts the vehicle position, keeping a newer stored row.
func (p *PostgresStore) RecordLocation(ctx context.Context, vehicle models.VehicleID, pos models.Position) error {
	const q = `
		INSERT INTO vehicle_positions (vehicle_id, lat, lng, description, observed_at, updated_at)
		VALUES (@vehicle_id, @lat, @lng, @description, @observed_at, now())
		ON CONFLICT (vehicle_id) DO UPDATE
		SET lat = EXCLUDED.lat,
		    lng = EXCLUDED.lng,
		    description = EXCLUDED.description,
		    observed_at = EXCLUDED.observed_at,
		    updated_at = now()
		WHERE vehicle_positions.observed_at <= EXCLUDED.observed_at`

	args := pgx.NamedArgs{
		"vehicle_id":  string(vehicle),
		"lat":         pos.Lat,
		"lng":         pos.Lng,
		"description": pos.Description,
		"observed_at": pos.ObservedAt,
	}
	if _, err := p.db.Exec(ctx, q, args); err != nil {
		return fmt.Errorf("snapshot.PostgresStore.RecordLocation: %w", err)
	}
	return nil
}

// RecordNotification inserts e and prunes the vehicle's history to the limit.
func (p *PostgresStore) RecordNotification(ctx context.Context, e models.NotificationEvent) error {
	const insertQ = `
		INSERT INTO vehicle_notifications (id, vehicle_id, type, message, created_at, recorded_at)
		VALUES (@id, @vehicle_id, @type, @message, @created_at, now())
		ON CONFLICT (id) DO NOTHING`

	tag, err := p.db.Exec(ctx, insertQ, pgx.NamedArgs{
		"id":         e.ID,
		"vehicle_id": string(e.VehicleID),
		"type":       string(e.Type),
		"message":    e.Message,
		"created_at": e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("snapshot.PostgresStore.RecordNotification: insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	const pruneQ = `
		DELETE FROM vehicle_notifications
		WHERE vehicle_id = @vehicle_id
		  AND seq NOT IN (
		    SELECT seq FROM vehicle_notifications
		    WHERE vehicle_id = @vehicle_id
		    ORDER BY seq DESC
		    LIMIT @limit
		  )`

	if _, err := p.db.Exec(ctx, pruneQ, pgx.NamedArgs{"vehicle_id": string(e.VehicleID), "limit": p.limit}); err != nil {
		return fmt.Errorf("snapshot.PostgresStore.RecordNotification: prune: %w", err)
	}
	return nil
}

// Close releases the pool if this store opened it.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
