package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultSessionTTL    = time.Hour
	DefaultCleanInterval = 5 * time.Minute
)

// Canceler drops queued work of a session that is going away.
type Canceler interface {
	CancelSession(sessionID string)
}

// Registry owns the live sessions, one per browser.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	baseDir  string
	ttl      time.Duration
	store    SnapshotStore
	canceler Canceler
	logger   *zap.Logger
	now      func() time.Time
}

func NewRegistry(baseDir string, ttl time.Duration, store SnapshotStore, canceler Canceler, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if store == nil {
		store = NopStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		baseDir:  baseDir,
		ttl:      ttl,
		store:    store,
		canceler: canceler,
		logger:   logger,
		now:      time.Now,
	}
}

var errInvalidID = errors.New("invalid session id")

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

// Get returns the session for id, creating it on first use. A session not
// held in memory is restored from its snapshot when one exists.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	if !validID(id) {
		return nil, errInvalidID
	}
	now := r.now()
	r.mu.Lock()
	if sess, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		sess.touch(now)
		return sess, nil
	}
	r.mu.Unlock()

	snap, found, err := r.store.Load(ctx, id)
	if err != nil {
		r.logger.Warn("load snapshot failed", zap.String("session", id), zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.touch(now)
		return sess, nil
	}
	sess := newSession(id, filepath.Join(r.baseDir, id), now)
	if found {
		sess.restore(snap)
		r.logger.Info("session restored", zap.String("session", id))
	}
	r.sessions[id] = sess
	return sess, nil
}

// Lookup returns a live session without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// End terminates a session: pending work is dropped, its files and snapshot
// are removed.
func (r *Registry) End(ctx context.Context, id string) error {
	if !validID(id) {
		return errInvalidID
	}
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	dir := filepath.Join(r.baseDir, id)
	if ok {
		r.release(sess)
		dir = sess.dir
	}
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn("remove session dir failed", zap.String("session", id), zap.Error(err))
	}
	return r.store.Delete(ctx, id)
}

// Close ends every live session. Used at shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.mu.Lock()
		sess, ok := r.sessions[id]
		delete(r.sessions, id)
		r.mu.Unlock()
		if !ok {
			continue
		}
		// snapshots stay so a restart can restore the session
		r.release(sess)
		if err := os.RemoveAll(sess.dir); err != nil {
			r.logger.Warn("remove session dir failed", zap.String("session", id), zap.Error(err))
		}
	}
}

func (r *Registry) release(sess *Session) {
	sess.end()
	if r.canceler != nil {
		r.canceler.CancelSession(sess.ID)
	}
}

// StartCleaner expires idle sessions every interval until ctx ends.
func (r *Registry) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanInterval
	}
	go r.cleanupLoop(ctx, interval)
}

func (r *Registry) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.CleanupExpired(ctx); n > 0 {
				r.logger.Info("expired sessions removed", zap.Int("count", n))
			}
		}
	}
}

// CleanupExpired ends sessions idle for longer than the TTL and prunes
// upload directories no live session owns. It returns the number of
// sessions ended.
func (r *Registry) CleanupExpired(ctx context.Context) int {
	now := r.now()
	r.mu.Lock()
	var expired []string
	for id, sess := range r.sessions {
		if sess.expired(now, r.ttl) {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		if err := r.End(ctx, id); err != nil {
			r.logger.Warn("end expired session failed", zap.String("session", id), zap.Error(err))
		}
	}
	r.pruneOrphans(now)
	return len(expired)
}

// pruneOrphans removes leftovers of sessions from an earlier run.
func (r *Registry) pruneOrphans(now time.Time) {
	if r.baseDir == "" {
		return
	}
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("scan upload dir failed", zap.String("dir", r.baseDir), zap.Error(err))
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, live := r.Lookup(entry.Name()); live {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) <= r.ttl {
			continue
		}
		path := filepath.Join(r.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn("remove orphan dir failed", zap.String("dir", path), zap.Error(err))
		}
	}
}
