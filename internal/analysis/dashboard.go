package analysis

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the dashboard.
type Snapshot struct {
	Systemic   *SystemicData `json:"systemic"`
	SystemicAt time.Time     `json:"systemicAt,omitzero"`
	Insight    *Insight      `json:"insight"`
	InsightAt  time.Time     `json:"insightAt,omitzero"`
}

// Dashboard holds the latest successful analysis results. Failed runs never
// clear it.
//
// All methods are safe for concurrent use. Stored values are treated as
// immutable.
type Dashboard struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewDashboard returns an empty dashboard.
func NewDashboard() *Dashboard {
	return &Dashboard{now: time.Now}
}

// UpdateSystemic stores d. A nil d keeps the prior data and reports false.
func (db *Dashboard) UpdateSystemic(d *SystemicData) bool {
	if d == nil {
		return false
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.snap.Systemic = d
	db.snap.SystemicAt = db.now()
	return true
}

// UpdateInsight stores in. A nil in keeps the prior insight and reports false.
func (db *Dashboard) UpdateInsight(in *Insight) bool {
	if in == nil {
		return false
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.snap.Insight = in
	db.snap.InsightAt = db.now()
	return true
}

// Snapshot returns the current results.
func (db *Dashboard) Snapshot() Snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.snap
}
