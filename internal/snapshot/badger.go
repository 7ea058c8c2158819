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

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/tomtom215/bustrack/internal/models"
)

const (
	snapshotKeyPrefix = "snapshot:"

	// maxTxnRetries bounds retries of a read-modify-write on ErrConflict.
	maxTxnRetries = 5
)

// BadgerStore persists snapshots in BadgerDB, one JSON value per vehicle.
type BadgerStore struct {
	db    *badger.DB
	limit int
	owned bool
	now   func() time.Time
}

// OpenBadgerStore opens (or creates) a BadgerDB at path.
func OpenBadgerStore(path string, recentLimit int) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for snapshots: %w", err)
	}
	s := NewBadgerStore(db, recentLimit)
	s.owned = true
	return s, nil
}

// NewBadgerStore wraps an open database. Close does not close db.
func NewBadgerStore(db *badger.DB, recentLimit int) *BadgerStore {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &BadgerStore{db: db, limit: recentLimit, now: time.Now}
}

func snapshotKey(vehicle models.VehicleID) []byte {
	return []byte(snapshotKeyPrefix + string(vehicle))
}

// Get returns the stored snapshot of vehicle.
func (b *BadgerStore) Get(_ context.Context, vehicle models.VehicleID) (models.Snapshot, error) {
	var s models.Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		var found bool
		var err error
		s, found, err = readSnapshot(txn, vehicle)
		if err != nil {
			return err
		}
		if !found {
			return models.ErrVehicleNotFound
		}
		return nil
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	return cloneSnapshot(s), nil
}

// RecordLocation stores p unless a newer position is held.
func (b *BadgerStore) RecordLocation(ctx context.Context, vehicle models.VehicleID, p models.Position) error {
	return b.update(ctx, vehicle, func(s *models.Snapshot) bool {
		return applyLocation(s, p, b.now())
	})
}

// RecordNotification prepends e unless its id is already held.
func (b *BadgerStore) RecordNotification(ctx context.Context, e models.NotificationEvent) error {
	return b.update(ctx, e.VehicleID, func(s *models.Snapshot) bool {
		return applyNotification(s, e, b.limit, b.now())
	})
}

// update runs a read-modify-write transaction, retrying on conflict.
func (b *BadgerStore) update(ctx context.Context, vehicle models.VehicleID, apply func(*models.Snapshot) bool) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = b.db.Update(func(txn *badger.Txn) error {
			s, _, err := readSnapshot(txn, vehicle)
			if err != nil {
				return err
			}
			s.VehicleID = vehicle
			if !apply(&s) {
				return nil
			}
			data, err := json.Marshal(s)
			if err != nil {
				return fmt.Errorf("marshal snapshot: %w", err)
			}
			return txn.Set(snapshotKey(vehicle), data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("update snapshot %s: %w", vehicle, err)
	}
	return nil
}

func readSnapshot(txn *badger.Txn, vehicle models.VehicleID) (models.Snapshot, bool, error) {
	var s models.Snapshot
	item, err := txn.Get(snapshotKey(vehicle))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("get snapshot: %w", err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	})
	if err != nil {
		return s, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, true, nil
}

// Close closes the database if this store opened it.
func (b *BadgerStore) Close() error {
	if b.owned {
		return b.db.Close()
	}
	return nil
}
