// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package viewer

import (
	"github.com/tomtom215/bustrack/internal/cache"
	"github.com/tomtom215/bustrack/internal/models"
)

// Default bounds of the per-viewer history.
const (
	DefaultTrailCapacity = 100
	DefaultFeedCapacity  = 50
)

// Trail is the bounded recent-position history drawn as a path. Entries are
// non-decreasing by ObservedAt and no two consecutive entries share
// coordinates.
type Trail struct {
	capacity int
	points   []models.Position
}

// NewTrail creates an empty trail. Non-positive capacities use the default.
func NewTrail(capacity int) *Trail {
	if capacity <= 0 {
		capacity = DefaultTrailCapacity
	}
	return &Trail{capacity: capacity, points: make([]models.Position, 0, capacity)}
}

// Add appends p, evicting the oldest entry at capacity. It reports false
// when p repeats the coordinates of the last entry. A position observed
// before the last entry is rejected with models.ErrOutOfOrderPosition.
func (t *Trail) Add(p models.Position) (bool, error) {
	if n := len(t.points); n > 0 {
		last := t.points[n-1]
		if p.ObservedAt.Before(last.ObservedAt) {
			return false, models.ErrOutOfOrderPosition
		}
		if last.SameCoordinates(p) {
			return false, nil
		}
	}
	if len(t.points) == t.capacity {
		copy(t.points, t.points[1:])
		t.points = t.points[:len(t.points)-1]
	}
	t.points = append(t.points, p)
	return true, nil
}

// Last returns the newest entry.
func (t *Trail) Last() (models.Position, bool) {
	if len(t.points) == 0 {
		return models.Position{}, false
	}
	return t.points[len(t.points)-1], true
}

// Len returns the number of entries.
func (t *Trail) Len() int {
	return len(t.points)
}

// Points returns a copy of the entries, oldest first.
func (t *Trail) Points() []models.Position {
	return append([]models.Position(nil), t.points...)
}

// Reset empties the trail, optionally seeding it with one point.
func (t *Trail) Reset(seed *models.Position) {
	t.points = t.points[:0]
	if seed != nil {
		t.points = append(t.points, *seed)
	}
}

// Feed is the bounded notification list, newest first, de-duplicated by
// notification id. Ids of evicted entries are remembered too, so a late
// redelivery never reappears.
type Feed struct {
	capacity int
	entries  []models.NotificationEvent
	seen     *cache.Dedup
}

// NewFeed creates an empty feed. Non-positive capacities use the default.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Feed{
		capacity: capacity,
		entries:  make([]models.NotificationEvent, 0, capacity),
		seen:     cache.NewDedup(capacity * 8),
	}
}

// Insert puts e at the front unless its id was seen before. It reports
// whether the feed changed. Events without an id are always inserted.
func (f *Feed) Insert(e models.NotificationEvent) bool {
	if e.ID != "" && f.seen.IsDuplicate(e.ID) {
		return false
	}
	if len(f.entries) == f.capacity {
		f.entries = f.entries[:len(f.entries)-1]
	}
	f.entries = append(f.entries, models.NotificationEvent{})
	copy(f.entries[1:], f.entries)
	f.entries[0] = e
	return true
}

// Entries returns a copy of the feed, newest first.
func (f *Feed) Entries() []models.NotificationEvent {
	return append([]models.NotificationEvent(nil), f.entries...)
}

// Len returns the number of entries.
func (f *Feed) Len() int {
	return len(f.entries)
}

// Reset empties the feed and forgets every id.
func (f *Feed) Reset() {
	f.entries = f.entries[:0]
	f.seen.Clear()
}
