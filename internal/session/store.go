// Package session keeps per-viewer checklist progress in memory. Progress is
// never persisted: leaving a service or idling past the TTL forgets it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"ckdt/internal/checklist"
	"ckdt/internal/domain"
)

// ErrUnknown is returned for ids that were never opened, were left or expired.
var ErrUnknown = errors.New("unknown session")

// Loader fetches the current catalog version of a service.
type Loader interface {
	GetService(ctx context.Context, id string) (domain.Service, error)
}

type Config struct {
	// TTL is the idle time after which a session is swept. Zero disables expiry.
	TTL    time.Duration
	Logger *log.Logger
	Now    func() time.Time
	NewID  func() string
}

// View is a service rendered with one session's progress.
type View struct {
	SessionID string            `json:"session_id"`
	Service   domain.Service    `json:"service"`
	Summary   checklist.Summary `json:"summary"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
}

type entry struct {
	serviceID string
	state     checklist.State
	touched   time.Time
}

type Store struct {
	loader Loader
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewStore(loader Loader, cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Store{loader: loader, cfg: cfg, sessions: map[string]*entry{}}
}

// Open starts a session on a service with nothing checked.
func (s *Store) Open(ctx context.Context, serviceID string) (View, error) {
	svc, err := s.loader.GetService(ctx, serviceID)
	if err != nil {
		return View{}, err
	}
	id := s.cfg.NewID()
	now := s.cfg.Now()
	s.mu.Lock()
	s.sessions[id] = &entry{serviceID: serviceID, state: checklist.State{}, touched: now}
	s.mu.Unlock()
	return s.render(id, checklist.ResetAllItems(svc), now), nil
}

// Get renders the session against the current catalog version. Checks on
// items that no longer exist are dropped.
func (s *Store) Get(ctx context.Context, id string) (View, error) {
	return s.apply(ctx, id, func(view domain.Service) domain.Service { return view })
}

// Toggle flips one item. Unknown section or item ids leave the state as is.
func (s *Store) Toggle(ctx context.Context, id, sectionID, itemID string) (View, error) {
	return s.apply(ctx, id, func(view domain.Service) domain.Service {
		return checklist.ToggleItem(view, sectionID, itemID)
	})
}

// Reset unchecks everything and keeps the session open.
func (s *Store) Reset(ctx context.Context, id string) (View, error) {
	return s.apply(ctx, id, checklist.ResetAllItems)
}

// Leave resets and forgets the session.
func (s *Store) Leave(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrUnknown
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) apply(ctx context.Context, id string, fn func(domain.Service) domain.Service) (View, error) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	var serviceID string
	if ok {
		serviceID = e.serviceID
	}
	s.mu.Unlock()
	if !ok {
		return View{}, ErrUnknown
	}

	svc, err := s.loader.GetService(ctx, serviceID)
	if err != nil {
		s.cfg.Logger.Printf("WARNING: session %s: load service %s: %v", id, serviceID, err)
		return View{}, fmt.Errorf("load service %s: %w", serviceID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.sessions[id]
	if !ok {
		return View{}, ErrUnknown
	}
	next := fn(e.state.Apply(svc))
	e.state = checklist.StateOf(next)
	e.touched = s.cfg.Now()
	return s.render(id, next, e.touched), nil
}

func (s *Store) render(id string, svc domain.Service, touched time.Time) View {
	v := View{SessionID: id, Service: svc, Summary: checklist.Summarize(svc)}
	if s.cfg.TTL > 0 {
		v.ExpiresAt = touched.Add(s.cfg.TTL).UTC()
	}
	return v
}

// Len returns the number of open sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many.
func (s *Store) Sweep() int {
	if s.cfg.TTL <= 0 {
		return 0
	}
	cutoff := s.cfg.Now().Add(-s.cfg.TTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.sessions {
		if e.touched.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps periodically until ctx is done.
func (s *Store) Run(ctx context.Context, every time.Duration) {
	if s.cfg.TTL <= 0 {
		return
	}
	if every <= 0 {
		every = s.cfg.TTL / 2
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.cfg.Logger.Printf("sessions: expired %d idle", n)
			}
		}
	}
}
