package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/tanya/internal/keylock"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/tokens"
	"go.uber.org/zap"
)

const (
	defaultTTL              = 30 * time.Minute
	defaultMaxTurns         = 20
	defaultMaxHistoryTokens = 2000
	defaultSweepInterval    = time.Minute
)

// Manager owns the session lifecycle. All reads and writes of one session id go through
// a FIFO lock, so a session is never mutated concurrently.
type Manager struct {
	store            Store
	locks            *keylock.Locker
	counter          tokens.Counter
	ttl              time.Duration
	maxTurns         int
	maxHistoryTokens int
	sweepInterval    time.Duration
	now              func() time.Time
	logger           *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTTL sets the inactivity timeout after which a session expires.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithLimits sets how many turns and how many history tokens a session keeps.
// Non-positive values keep the defaults.
func WithLimits(maxTurns, maxHistoryTokens int) Option {
	return func(m *Manager) {
		if maxTurns > 0 {
			m.maxTurns = maxTurns
		}
		if maxHistoryTokens > 0 {
			m.maxHistoryTokens = maxHistoryTokens
		}
	}
}

// WithSweepInterval sets how often Run evicts expired sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithCounter sets the token counter used for turn sizes.
func WithCounter(c tokens.Counter) Option {
	return func(m *Manager) { m.counter = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager on top of store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		locks:            keylock.New(),
		counter:          tokens.WordCounter{},
		ttl:              defaultTTL,
		maxTurns:         defaultMaxTurns,
		maxHistoryTokens: defaultMaxHistoryTokens,
		sweepInterval:    defaultSweepInterval,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tx is a session held under its lock for the duration of a WithSession callback.
type Tx struct {
	m       *Manager
	s       *models.Session
	renewed bool
}

// ID returns the session id.
func (tx *Tx) ID() string {
	return tx.s.ID
}

// Renewed reports whether the session had expired and was started fresh.
func (tx *Tx) Renewed() bool {
	return tx.renewed
}

// Session returns a copy of the current session state.
func (tx *Tx) Session() *models.Session {
	return cloneSession(tx.s)
}

// History returns up to maxTurns of the most recent turns, oldest first. maxTurns <= 0
// returns all stored turns.
func (tx *Tx) History(maxTurns int) []models.Turn {
	turns := tx.s.Turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	return cloneSession(&models.Session{Turns: turns}).Turns
}

// Append records a turn and persists the session. Seq, Timestamp and TokenCount are
// assigned here; the stored history is then truncated to the manager's limits.
func (tx *Tx) Append(ctx context.Context, role models.Role, text string, citations []string) (models.Turn, error) {
	now := tx.m.now()
	turn := models.Turn{
		Seq:        tx.s.NextSeq,
		Role:       role,
		Text:       text,
		Timestamp:  now,
		TokenCount: tx.m.counter.Count(text),
		Citations:  citations,
	}
	next := cloneSession(tx.s)
	next.Turns = tx.m.truncate(append(next.Turns, turn))
	next.NextSeq++
	next.LastActivity = now
	if err := tx.m.store.Put(ctx, next); err != nil {
		return models.Turn{}, fmt.Errorf("failed to save session: %w", err)
	}
	tx.s = next
	return turn, nil
}

// truncate keeps the newest maxTurns turns, then drops the oldest until the token total
// is within maxHistoryTokens. The newest turn is always kept.
func (m *Manager) truncate(turns []models.Turn) []models.Turn {
	if len(turns) > m.maxTurns {
		turns = turns[len(turns)-m.maxTurns:]
	}
	total := 0
	for _, t := range turns {
		total += t.TokenCount
	}
	for len(turns) > 1 && total > m.maxHistoryTokens {
		total -= turns[0].TokenCount
		turns = turns[1:]
	}
	return turns
}

// WithSession runs fn while holding the lock of session id, creating the session if it
// does not exist or has expired. Waiters for the same id run in arrival order.
func (m *Manager) WithSession(ctx context.Context, id string, fn func(tx *Tx) error) error {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	s, renewed, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	return fn(&Tx{m: m, s: s, renewed: renewed})
}

// load returns the live session for id or a fresh one, which is persisted right away.
func (m *Manager) load(ctx context.Context, id string) (*models.Session, bool, error) {
	now := m.now()
	s, err := m.store.Get(ctx, id)
	switch {
	case err == nil && !s.Expired(now, m.ttl):
		return s, false, nil
	case err != nil && !errors.Is(err, models.ErrSessionNotFound):
		return nil, false, fmt.Errorf("failed to load session: %w", err)
	}
	renewed := err == nil
	if renewed && m.logger != nil {
		m.logger.Debug("session expired, starting fresh", zap.String("id", id), zap.Time("last_activity", s.LastActivity))
	}
	fresh := &models.Session{ID: id, Turns: []models.Turn{}, CreatedAt: now, LastActivity: now}
	if err := m.store.Put(ctx, fresh); err != nil {
		return nil, false, fmt.Errorf("failed to save session: %w", err)
	}
	return fresh, renewed, nil
}

// GetOrCreate returns the session for id, creating it on first use. The bool reports
// whether an expired session was replaced.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*models.Session, bool, error) {
	var (
		s       *models.Session
		renewed bool
	)
	err := m.WithSession(ctx, id, func(tx *Tx) error {
		s, renewed = tx.Session(), tx.Renewed()
		return nil
	})
	return s, renewed, err
}

// AppendTurn records a turn in session id, creating the session if needed.
func (m *Manager) AppendTurn(ctx context.Context, id string, role models.Role, text string, citations []string) (models.Turn, error) {
	var turn models.Turn
	err := m.WithSession(ctx, id, func(tx *Tx) error {
		var err error
		turn, err = tx.Append(ctx, role, text, citations)
		return err
	})
	return turn, err
}

// Get returns a live session without creating one. Missing and expired sessions
// return models.ErrSessionNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now(), m.ttl) {
		return nil, fmt.Errorf("%w: %s expired", models.ErrSessionNotFound, id)
	}
	return s, nil
}

// History returns up to maxTurns of the most recent turns of a live session, oldest first.
func (m *Manager) History(ctx context.Context, id string, maxTurns int) ([]models.Turn, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return (&Tx{s: s}).History(maxTurns), nil
}

// Delete removes a session. Deleting an unknown session returns models.ErrSessionNotFound.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := m.store.Get(ctx, id); err != nil {
		return err
	}
	return m.store.Delete(ctx, id)
}

// Len returns the number of stored sessions, expired ones included until swept.
func (m *Manager) Len(ctx context.Context) (int, error) {
	return m.store.Len(ctx)
}

// Sweep deletes every expired session and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.ttl <= 0 {
		return 0, nil
	}
	ids, err := m.store.IdleSince(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	removed := 0
	for _, id := range ids {
		ok, err := m.evict(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	if removed > 0 && m.logger != nil {
		m.logger.Debug("sessions evicted", zap.Int("count", removed))
	}
	return removed, nil
}

// evict deletes id if it is still expired once its lock is held.
func (m *Manager) evict(ctx context.Context, id string) (bool, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if errors.Is(err, models.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.Expired(m.now(), m.ttl) {
		return false, nil
	}
	return true, m.store.Delete(ctx, id)
}

// Run evicts expired sessions every sweep interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil && m.logger != nil {
				m.logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
