package storage

import (
	"context"
	"sync"
	"time"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/log"
)

// accessTouch records the most recent access time requested for one key
// (a file URL or a user id). Only the latest timestamp per key survives
// between flushes, since that's all a counter column needs.
type accessTouch struct {
	userTimes map[int]time.Time
	fileTimes map[string]time.Time
}

// Debouncer coalesces last-active and file-access-time writes: read paths
// are far more frequent than writes, so stamping every read immediately
// would serialize all of them behind the single writer lock. Instead
// touches accumulate in memory and flush on a ticker.
type Debouncer struct {
	pool *Pool

	mu      sync.Mutex
	pending accessTouch

	minDelay time.Duration
	maxWait  time.Duration

	flushNow chan struct{}
	done     chan struct{}
	stopped  chan struct{}

	firstPendingAt time.Time
}

// NewDebouncer creates a debouncer bound to pool. Call Run in a goroutine
// and Stop (which drains any pending writes) before the pool closes.
func NewDebouncer(pool *Pool, minDelay, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		pool: pool,
		pending: accessTouch{
			userTimes: make(map[int]time.Time),
			fileTimes: make(map[string]time.Time),
		},
		minDelay: minDelay,
		maxWait:  maxWait,
		flushNow: make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// TouchUser queues a last-active stamp for userID.
func (d *Debouncer) TouchUser(userID int, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.userTimes[userID] = at
	d.markPending()
}

// TouchFile queues an access-time stamp for a file URL.
func (d *Debouncer) TouchFile(url string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.fileTimes[url] = at
	d.markPending()
}

// markPending must be called with mu held.
func (d *Debouncer) markPending() {
	if d.firstPendingAt.IsZero() {
		d.firstPendingAt = time.Now()
	}
	select {
	case d.flushNow <- struct{}{}:
	default:
	}
}

// Run drives the flush loop until Stop is called. Intended to run in its
// own goroutine for the lifetime of the process.
func (d *Debouncer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.minDelay)
	defer ticker.Stop()
	defer close(d.stopped)

	for {
		select {
		case <-ctx.Done():
			d.flush(context.Background())
			return
		case <-d.done:
			d.flush(context.Background())
			return
		case <-ticker.C:
			d.maybeFlush()
		case <-d.flushNow:
			d.maybeFlush()
		}
	}
}

// maybeFlush flushes if anything is pending and either minDelay has
// elapsed since the first pending touch, or maxWait has been exceeded.
func (d *Debouncer) maybeFlush() {
	d.mu.Lock()
	if d.firstPendingAt.IsZero() {
		d.mu.Unlock()
		return
	}
	age := time.Since(d.firstPendingAt)
	d.mu.Unlock()
	if age >= d.minDelay || age >= d.maxWait {
		d.flush(context.Background())
	}
}

func (d *Debouncer) flush(ctx context.Context) {
	d.mu.Lock()
	if len(d.pending.userTimes) == 0 && len(d.pending.fileTimes) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.pending
	d.pending = accessTouch{
		userTimes: make(map[int]time.Time),
		fileTimes: make(map[string]time.Time),
	}
	d.firstPendingAt = time.Time{}
	d.mu.Unlock()

	err := d.pool.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		for userID, at := range batch.userTimes {
			if err := TouchLastActive(ctx, c, userID, at); err != nil && !lfsserr.Is(err, lfsserr.KindUserNotFound) {
				return err
			}
		}
		for url, at := range batch.fileTimes {
			if err := TouchFileAccess(ctx, c, url, at); err != nil && !lfsserr.Is(err, lfsserr.KindFileNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Logger.Warn().Err(err).Msg("debounced access-time flush failed")
	}
}

// Stop signals the run loop to perform a final flush and exit, blocking
// until that flush has completed.
func (d *Debouncer) Stop() {
	close(d.done)
	<-d.stopped
}
