package x402shop

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session binds one price quote to one client interaction. The quoted amount
// is fixed at creation and never recomputed; Paid transitions false→true
// exactly once.
type Session struct {
	ID        string
	CreatedAt time.Time
	Subject   string
	Amount    Amount
	Paid      bool
	ProofID   string
	Payer     string
}

// SessionStore owns the ephemeral payment-challenge records.
type SessionStore interface {
	// Create allocates a fresh unguessable session bound to amount.
	Create(ctx context.Context, subject string, amount Amount) (*Session, error)
	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// MarkPaid compare-and-sets the paid flag and attaches proof metadata.
	// Calling it again with the same proof is a no-op; a different proof for
	// an already-paid session fails with ErrSessionPaid.
	MarkPaid(ctx context.Context, id, proofID, payer string) error
}

// MemorySessionStoreOption customizes the in-memory session store.
type MemorySessionStoreOption func(*memorySessionStore)

// WithSessionTTL expires unpaid sessions after ttl. Zero (the default)
// keeps sessions until process exit.
func WithSessionTTL(ttl time.Duration) MemorySessionStoreOption {
	return func(s *memorySessionStore) {
		s.ttl = ttl
	}
}

func withSessionClock(fn func() time.Time) MemorySessionStoreOption {
	return func(s *memorySessionStore) {
		s.clock = fn
	}
}

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	clock    func() time.Time
}

// NewMemorySessionStore builds a mutex-guarded in-process [SessionStore].
func NewMemorySessionStore(opts ...MemorySessionStoreOption) SessionStore {
	s := &memorySessionStore{
		sessions: make(map[string]*Session),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *memorySessionStore) Create(ctx context.Context, subject string, amount Amount) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: s.clock().UTC(),
		Subject:   subject,
		Amount:    amount,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *memorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.expired(sess) {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

func (s *memorySessionStore) MarkPaid(ctx context.Context, id, proofID, payer string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || s.expired(sess) {
		return ErrSessionNotFound
	}
	if sess.Paid {
		if sess.ProofID == proofID {
			return nil
		}
		return ErrSessionPaid
	}
	sess.Paid = true
	sess.ProofID = proofID
	sess.Payer = payer
	return nil
}

// expired applies the TTL to unpaid sessions only; a paid session stays
// resolvable for the fulfillment that follows it.
func (s *memorySessionStore) expired(sess *Session) bool {
	if s.ttl <= 0 || sess.Paid {
		return false
	}
	return s.clock().Sub(sess.CreatedAt) > s.ttl
}
