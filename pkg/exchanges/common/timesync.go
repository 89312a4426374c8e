package common

import (
	"context"
	"log"
	"sync"
	"time"
)

// TimeSync keeps the offset between local and venue clocks so signed
// requests stay inside the receive window.
type TimeSync struct {
	serverTime   func(ctx context.Context) (int64, error)
	offset       int64 // ms, server - local
	lastSync     time.Time
	syncInterval time.Duration
	mu           sync.RWMutex
}

func NewTimeSync(serverTime func(ctx context.Context) (int64, error)) *TimeSync {
	return &TimeSync{
		serverTime:   serverTime,
		syncInterval: 30 * time.Minute,
	}
}

// Run syncs once and then every sync interval until ctx is done.
func (ts *TimeSync) Run(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		log.Printf("[GATEWAY] initial time sync failed: %v", err)
	}
	ticker := time.NewTicker(ts.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ts.Sync(ctx); err != nil {
				log.Printf("[GATEWAY] time sync failed: %v", err)
			}
		}
	}
}

// Sync measures the offset, assuming symmetric network latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := time.Now().UnixMilli()
	server, err := ts.serverTime(ctx)
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()
	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	log.Printf("[GATEWAY] time sync offset=%dms", server-local)
	return nil
}

// Now returns the venue clock in milliseconds.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Stale reports whether the offset was never measured or is older than the sync interval.
func (ts *TimeSync) Stale() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync.IsZero() || time.Since(ts.lastSync) > ts.syncInterval
}
