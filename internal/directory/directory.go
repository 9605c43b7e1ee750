// Package directory caches the roster of known users.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notify"
	"github.com/bissquit/task-garden/internal/pkg/ctxlog"
	"github.com/bissquit/task-garden/internal/pkg/metrics"
	"github.com/bissquit/task-garden/internal/pkg/observable"
)

const storeName = "directory"

// Snapshot is the observable roster state.
type Snapshot struct {
	Users   []domain.User `json:"users"`
	Loaded  bool          `json:"loaded"`
	Loading bool          `json:"loading"`
	// Stale is set when the last load failed and Users is the previous roster.
	Stale bool `json:"stale"`
}

// Config contains directory settings.
type Config struct {
	// DegradedMode keeps the previous roster when a reload fails.
	DegradedMode bool
}

// IdentitySource reports identity changes.
type IdentitySource interface {
	SubscribeIdentity(fn func(*domain.User)) func()
}

// Store owns the identity collection.
type Store struct {
	profiles backend.Profiles
	notifier notify.Notifier
	cfg      Config
	state    *observable.Value[Snapshot]

	mu      sync.Mutex
	index   map[string]domain.User
	seq     uint64
	stopped bool
	wg      sync.WaitGroup
}

// NewStore creates a directory store.
func NewStore(profiles backend.Profiles, notifier notify.Notifier, cfg Config) *Store {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Store{
		profiles: profiles,
		notifier: notifier,
		cfg:      cfg,
		state:    observable.New(Snapshot{Users: make([]domain.User, 0)}),
		index:    make(map[string]domain.User),
	}
}

// Load fetches every profile and replaces the cache. On failure it falls back
// to the previous roster in degraded mode, or to an empty one otherwise.
func (s *Store) Load(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(storeName, "load", start, err) }()

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.state.Update(func(snap Snapshot) Snapshot {
		snap.Loading = true
		return snap
	})

	users, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		if s.isStopped() {
			return err
		}
		ctxlog.FromContext(ctx).Warn("load users failed", "error", err, "degraded_mode", s.cfg.DegradedMode)
		s.notifier.Notify(ctx, notify.LevelWarning, notify.KeyDirectoryLoadFailed)

		s.apply(seq, func(snap Snapshot) Snapshot {
			if s.cfg.DegradedMode {
				snap.Stale = snap.Loaded
			} else {
				snap.Users = make([]domain.User, 0)
				snap.Stale = false
			}
			snap.Loaded = true
			snap.Loading = false
			return snap
		})
		return err
	}

	s.apply(seq, func(Snapshot) Snapshot {
		return Snapshot{Users: users, Loaded: true}
	})
	return nil
}

// Follow reloads the roster whenever an identity becomes available. The
// returned func cancels loads in flight, waits for them and stops the store:
// no load result is installed after it returns.
func (s *Store) Follow(ctx context.Context, source IdentitySource) func() {
	ctx, cancel := context.WithCancel(ctx)

	unsubscribe := source.SubscribeIdentity(func(u *domain.User) {
		if u == nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.Load(ctx)
		}()
	})

	return func() {
		unsubscribe()
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		cancel()
		s.wg.Wait()
	}
}

func (s *Store) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// apply installs next when seq is the latest load and the store still runs.
func (s *Store) apply(seq uint64, fn func(Snapshot) Snapshot) {
	s.state.UpdateIf(func(snap Snapshot) (Snapshot, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || seq != s.seq {
			return snap, false
		}
		next := fn(snap)
		s.index = make(map[string]domain.User, len(next.Users))
		for _, u := range next.Users {
			s.index[u.ID] = u
		}
		return next, true
	})
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	return s.state.Get()
}

// Subscribe registers fn for every state change.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	return s.state.Subscribe(fn)
}

// All returns a copy of the roster.
func (s *Store) All() []domain.User {
	users := s.state.Get().Users
	out := make([]domain.User, len(users))
	copy(out, users)
	return out
}

// GetByID returns the user with id.
func (s *Store) GetByID(id string) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.index[id]
	return u, ok
}

// GetByIDs returns the known users among ids, in the order given. Unknown ids
// are dropped.
func (s *Store) GetByIDs(ids []string) []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.index[id]; ok {
			out = append(out, u)
		}
	}
	return out
}
