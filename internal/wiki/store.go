// Package wiki implements the versioned document store that approved
// changes are written to.
//
// Every write (create, update, move) builds its rows in memory, runs the
// pre-finalize phase handlers inside the write transaction, inserts the
// rows, commits, and then runs the post-finalize handlers with the assigned
// ids. Updates are conditional on the caller's view of the latest revision.
package wiki

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/modqueue/internal/merge"
	"github.com/roach88/modqueue/internal/store"
)

// DefaultMaxContentBytes is the content size limit when none is configured.
const DefaultMaxContentBytes = 2 << 20

// Store is the SQLite-backed document store.
type Store struct {
	st         *store.Store
	now        func() time.Time
	rights     Rights
	maxContent int
	logger     *slog.Logger

	mu        sync.RWMutex
	handlers  map[Phase][]PhaseHandler
	observers []TagObserver
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the source of write timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRights sets the permission source used for the minor-edit check.
// Without it no user may mark edits minor.
func WithRights(r Rights) Option {
	return func(s *Store) { s.rights = r }
}

// WithMaxContentBytes sets the largest accepted revision text.
func WithMaxContentBytes(n int) Option {
	return func(s *Store) { s.maxContent = n }
}

// WithLogger sets the logger used for post-finalize handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a document store over an opened database.
func New(st *store.Store, opts ...Option) *Store {
	s := &Store{
		st:         st,
		now:        time.Now,
		maxContent: DefaultMaxContentBytes,
		logger:     slog.Default(),
		handlers:   make(map[Phase][]PhaseHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnPhase registers h to run at phase for every subsequent write.
// Handlers run in registration order.
func (s *Store) OnPhase(phase Phase, h PhaseHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[phase] = append(s.handlers[phase], h)
}

// OnTagsUpdated registers an observer for AddTags.
func (s *Store) OnTagsUpdated(obs TagObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// Merge3 implements DocumentStore using the line-based merge.
func (s *Store) Merge3(base, proposed, current string) (string, bool) {
	return merge.Merge3(base, proposed, current)
}

func (s *Store) phaseHandlers(phase Phase) []PhaseHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PhaseHandler(nil), s.handlers[phase]...)
}

// runPre runs pre-finalize handlers; the first error aborts.
func (s *Store) runPre(ctx context.Context, ev *PhaseEvent) error {
	ev.Phase = PhasePreFinalize
	for _, h := range s.phaseHandlers(PhasePreFinalize) {
		if err := h(ctx, ev); err != nil {
			return &RejectedError{Reason: "pre-finalize handler: " + err.Error()}
		}
	}
	return nil
}

// runPost runs every post-finalize handler; failures are logged only.
func (s *Store) runPost(ctx context.Context, ev *PhaseEvent) {
	ev.Phase = PhasePostFinalize
	for _, h := range s.phaseHandlers(PhasePostFinalize) {
		if err := h(ctx, ev); err != nil {
			s.logger.Error("post-finalize handler failed",
				"title", ev.Title,
				"kind", ev.Kind,
				"rev_id", ev.IDs.RevID,
				"error", err)
		}
	}
}

func (s *Store) minorAllowed(u User) bool {
	return s.rights != nil && s.rights.Allowed(u, RightMinorEdit)
}

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func sha1Hex(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
