// Package lock serialises writers per table with an advisory sentinel file
// named "<table>.lock" in the "locks" folder of the store. The presence of
// the file is the lock state.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Tiliavir/timesheet-fiscal/internal/store"
)

// FolderName is the subfolder of the root folder holding sentinels.
const FolderName = "locks"

// ErrBusy is returned when a lock could not be acquired before the timeout.
var ErrBusy = errors.New("system busy, retry")

// Defaults for Options fields left zero.
const (
	DefaultPollInterval   = 400 * time.Millisecond
	DefaultTimeout        = 15 * time.Second
	DefaultMaxAge         = 5 * time.Minute
	DefaultReleaseRetries = 3
)

// Options configures a Manager.
type Options struct {
	// Holder identifies this process in sentinels. Defaults to DefaultHolder("").
	Holder       string
	PollInterval time.Duration
	Timeout      time.Duration
	// MaxAge is the age after which a sentinel is considered abandoned and
	// force-cleared. Negative disables expiry; zero means DefaultMaxAge.
	MaxAge time.Duration
	// ReleaseRetries is the number of extra delete attempts on release.
	// Negative disables retries; zero means DefaultReleaseRetries.
	ReleaseRetries int
	Logger         *slog.Logger
	Now            func() time.Time
}

// DefaultHolder returns "user@host:pid".
func DefaultHolder(user string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	if user == "" {
		user = "anonymous"
	}
	return fmt.Sprintf("%s@%s:%d", user, host, os.Getpid())
}

// Manager hands out per-table locks.
type Manager struct {
	st     store.Store
	folder string
	opts   Options
}

// New returns a Manager whose sentinels live in the locks folder below
// rootID. The folder is created if missing.
func New(ctx context.Context, st store.Store, rootID string, opts Options) (*Manager, error) {
	folder, err := st.EnsureFolder(ctx, rootID, FolderName)
	if err != nil {
		return nil, fmt.Errorf("ensuring locks folder: %w", err)
	}
	if opts.Holder == "" {
		opts.Holder = DefaultHolder("")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.ReleaseRetries == 0 {
		opts.ReleaseRetries = DefaultReleaseRetries
	}
	if opts.ReleaseRetries < 0 {
		opts.ReleaseRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{st: st, folder: folder, opts: opts}, nil
}

// Holder returns the identity written into sentinels.
func (m *Manager) Holder() string { return m.opts.Holder }

// sentinel is the JSON content of a lock file.
type sentinel struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func sentinelName(table string) string {
	return table + ".lock"
}

// Lock is a held lock. Release it exactly once; further calls are no-ops.
type Lock struct {
	Table      string
	Holder     string
	AcquiredAt time.Time

	m        *Manager
	fileID   string
	mu       sync.Mutex
	released bool
}

// Acquire polls until it holds the lock for table, the timeout elapses
// (ErrBusy) or ctx is done.
func (m *Manager) Acquire(ctx context.Context, table string) (*Lock, error) {
	tctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	log := m.opts.Logger.With("table", table, "holder", m.opts.Holder)
	for {
		l, err := m.try(tctx, table)
		if l != nil {
			log.Debug("lock acquired")
			return l, nil
		}
		if err != nil && tctx.Err() == nil {
			return nil, fmt.Errorf("acquiring lock on %s: %w", table, err)
		}

		select {
		case <-tctx.Done():
		case <-time.After(m.opts.PollInterval):
			continue
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring lock on %s: %w", table, ctx.Err())
		}
		log.Warn("lock not acquired before timeout", "timeout", m.opts.Timeout)
		return nil, fmt.Errorf("acquiring lock on %s: %w", table, ErrBusy)
	}
}

// try makes one acquisition attempt. It returns (nil, nil) when the table
// is held by someone else.
func (m *Manager) try(ctx context.Context, table string) (*Lock, error) {
	name := sentinelName(table)
	files, err := m.st.List(ctx, m.folder, name)
	if err != nil {
		return nil, err
	}
	held := 0
	for _, f := range files {
		if m.expired(ctx, f) {
			m.opts.Logger.Warn("force-clearing abandoned lock",
				"table", table, "file", f.ID, "max_age", m.opts.MaxAge)
			if err := m.st.Delete(ctx, f.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("clearing abandoned lock: %w", err)
			}
			continue
		}
		held++
	}
	if held > 0 {
		return nil, nil
	}

	now := m.opts.Now()
	content, err := json.Marshal(sentinel{Holder: m.opts.Holder, AcquiredAt: now})
	if err != nil {
		return nil, err
	}
	created, err := m.st.Create(ctx, m.folder, name, content)
	if err != nil {
		// Lost the race, or a transient failure: either way still locked.
		m.opts.Logger.Debug("lock sentinel not created", "table", table, "err", err)
		return nil, nil
	}

	// Stores that allow duplicate names can end up with several sentinels.
	// The earliest one wins; the others withdraw.
	files, err = m.st.List(ctx, m.folder, name)
	if err != nil {
		m.remove(ctx, created.ID)
		return nil, err
	}
	if w, ok := winner(files); ok && w.ID != created.ID {
		m.opts.Logger.Debug("lost lock race", "table", table, "winner", w.ID)
		m.remove(ctx, created.ID)
		return nil, nil
	}
	return &Lock{
		Table:      table,
		Holder:     m.opts.Holder,
		AcquiredAt: now,
		m:          m,
		fileID:     created.ID,
	}, nil
}

func winner(files []store.File) (store.File, bool) {
	if len(files) == 0 {
		return store.File{}, false
	}
	sorted := make([]store.File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedTime.Equal(sorted[j].CreatedTime) {
			return sorted[i].CreatedTime.Before(sorted[j].CreatedTime)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0], true
}

// remove deletes a sentinel this process created, ignoring ctx cancellation.
func (m *Manager) remove(ctx context.Context, fileID string) {
	if err := m.st.Delete(context.WithoutCancel(ctx), fileID); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.opts.Logger.Warn("could not remove lock sentinel", "file", fileID, "err", err)
	}
}

// read returns the sentinel content of f, falling back to the file's
// timestamps when the content is unreadable.
func (m *Manager) read(ctx context.Context, f store.File) sentinel {
	s := sentinel{AcquiredAt: f.CreatedTime}
	if s.AcquiredAt.IsZero() {
		s.AcquiredAt = f.ModifiedTime
	}
	data, err := m.st.Download(ctx, f.ID)
	if err != nil {
		return s
	}
	var parsed sentinel
	if json.Unmarshal(data, &parsed) == nil && !parsed.AcquiredAt.IsZero() {
		return parsed
	}
	return s
}

func (m *Manager) expired(ctx context.Context, f store.File) bool {
	if m.opts.MaxAge < 0 {
		return false
	}
	s := m.read(ctx, f)
	return !s.AcquiredAt.IsZero() && m.opts.Now().Sub(s.AcquiredAt) > m.opts.MaxAge
}

// Release deletes the sentinel. Failures are retried ReleaseRetries times
// and then logged; they are never returned.
func (l *Lock) Release(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true

	m := l.m
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 0; attempt <= m.opts.ReleaseRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(m.opts.PollInterval)
		}
		err = m.st.Delete(ctx, l.fileID)
		if err == nil || errors.Is(err, store.ErrNotFound) {
			m.opts.Logger.Debug("lock released", "table", l.Table, "holder", l.Holder)
			return
		}
	}
	m.opts.Logger.Warn("lock release failed, sentinel left behind",
		"table", l.Table, "holder", l.Holder, "attempts", m.opts.ReleaseRetries+1, "err", err)
}

// With runs fn while holding the lock for table. The lock is released even
// when fn fails or panics.
func (m *Manager) With(ctx context.Context, table string, fn func(ctx context.Context) error) error {
	l, err := m.Acquire(ctx, table)
	if err != nil {
		return err
	}
	defer l.Release(ctx)
	return fn(ctx)
}

// Info describes the current holder of a table lock.
type Info struct {
	Table      string
	Holder     string
	AcquiredAt time.Time
	FileID     string
	// Stale is true when the sentinel is older than MaxAge and would be
	// force-cleared by the next acquirer.
	Stale bool
}

// Inspect returns the current holders of table, oldest first. The result
// is empty when the table is not locked.
func (m *Manager) Inspect(ctx context.Context, table string) ([]Info, error) {
	files, err := m.st.List(ctx, m.folder, sentinelName(table))
	if err != nil {
		return nil, fmt.Errorf("listing locks: %w", err)
	}
	infos := make([]Info, 0, len(files))
	for _, f := range files {
		s := m.read(ctx, f)
		infos = append(infos, Info{
			Table:      table,
			Holder:     s.Holder,
			AcquiredAt: s.AcquiredAt,
			FileID:     f.ID,
			Stale:      m.opts.MaxAge >= 0 && m.opts.Now().Sub(s.AcquiredAt) > m.opts.MaxAge,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].AcquiredAt.Before(infos[j].AcquiredAt) })
	return infos, nil
}

// ForceRelease deletes every sentinel of table regardless of holder and
// returns how many were removed. It is an operator escape hatch for locks
// left behind by crashed processes.
func (m *Manager) ForceRelease(ctx context.Context, table string) (int, error) {
	files, err := m.st.List(ctx, m.folder, sentinelName(table))
	if err != nil {
		return 0, fmt.Errorf("listing locks: %w", err)
	}
	n := 0
	for _, f := range files {
		if err := m.st.Delete(ctx, f.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return n, fmt.Errorf("deleting %s: %w", f.ID, err)
		}
		n++
	}
	if n > 0 {
		m.opts.Logger.Warn("lock force-released", "table", table, "count", n)
	}
	return n, nil
}
