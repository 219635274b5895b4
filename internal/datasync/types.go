// Package datasync replays the offline sync queue against the remote store,
// detects session conflicts and schedules automatic syncs when the network
// comes back.
package datasync

import (
	"time"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/model"
)

// NoSessionGroup groups queue items that carry no session id
const NoSessionGroup = "no-session"

var (
	// ErrSyncInProgress rejects a sync while another one runs
	ErrSyncInProgress = errors.NewStd("sync already in progress")
	// ErrOffline rejects a sync while the network is down
	ErrOffline = errors.NewStd("network is offline")
	// ErrNoRemote rejects a sync when no remote store is configured
	ErrNoRemote = errors.NewStd("no remote store configured")
	// ErrRetriesExhausted is reported for items that reached the retry limit
	ErrRetriesExhausted = errors.NewStd("sync item exceeded maximum retries")
)

// Progress is broadcast to listeners while a sync runs
type Progress struct {
	Total     int
	Completed int
	Failed    int
	Current   string // "<type>:<action>" of the item being synced
}

// ItemError pairs a failed queue item with its error message
type ItemError struct {
	Item  model.PendingSyncItem
	Error string
}

// Result summarizes one sync run. Success is false when any item failed.
type Result struct {
	Success  bool
	Synced   int
	Failed   int
	Deferred int // items skipped because an earlier item of their session failed
	Errors   []ItemError
}

// Conflict reports diverging local and remote copies of a session
type Conflict struct {
	Type       model.SyncType
	SessionID  string
	Local      model.TestingSession
	Remote     model.TestingSession
	DetectedAt time.Time
}

// Status is a snapshot of the engine
type Status struct {
	IsSyncing    bool
	AutoSync     bool
	PendingCount int64
	LastResult   *Result
	LastSyncAt   time.Time
}

// Config controls sync behavior
type Config struct {
	AutoSync       bool
	Delay          time.Duration // wait after coming online before syncing
	Interval       time.Duration // periodic sync interval, 0 disables
	ChunkSize      int           // signal rows per remote insert
	MaxRetries     int
	ConflictWindow time.Duration
}

// DefaultConfig mirrors the default settings
func DefaultConfig() Config {
	return Config{
		AutoSync:       true,
		Delay:          2 * time.Second,
		Interval:       time.Minute,
		ChunkSize:      1000,
		MaxRetries:     5,
		ConflictWindow: time.Second,
	}
}
