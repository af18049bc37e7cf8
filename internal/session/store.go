package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Bootstrap reason labels.
const (
	ReasonInitial = "initial"
	ReasonRefresh = "refresh"
)

// Bootstrapper acquires fresh credentials for the origin of seedURL.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, seedURL, reason string) (*Session, error)
}

// Store owns at most one live Session per origin. Sessions are created
// lazily through the Bootstrapper; concurrent requests for the same origin
// share one bootstrap while other origins proceed independently.
type Store struct {
	bootstrapper Bootstrapper
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[crawler.Origin]*Session
	stale    map[crawler.Origin]struct{}

	group singleflight.Group
}

// NewStore builds an empty store.
func NewStore(bootstrapper Bootstrapper, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		bootstrapper: bootstrapper,
		logger:       logger,
		sessions:     make(map[crawler.Origin]*Session),
		stale:        make(map[crawler.Origin]struct{}),
	}
}

// GetOrCreate returns the origin's session, bootstrapping one from seedURL
// (or the origin root when seedURL is empty) if none is held.
func (s *Store) GetOrCreate(ctx context.Context, origin crawler.Origin, seedURL string) (*Session, error) {
	if sess := s.lookup(origin); sess != nil {
		return sess, nil
	}
	if s.bootstrapper == nil {
		return nil, errors.New("session store has no bootstrapper")
	}
	if seedURL == "" {
		seedURL = origin.String() + "/"
	}
	seedOrigin, err := crawler.OriginOf(seedURL)
	if err != nil {
		return nil, err
	}
	if seedOrigin != origin {
		return nil, fmt.Errorf("seed %s does not belong to origin %s", seedURL, origin)
	}

	v, err, shared := s.group.Do(origin.String(), func() (any, error) {
		if sess := s.lookup(origin); sess != nil {
			return sess, nil
		}
		reason := s.reasonFor(origin)
		sess, err := s.bootstrapper.Bootstrap(ctx, seedURL, reason)
		if err != nil {
			var be *crawler.BootstrapError
			if !errors.As(err, &be) {
				err = &crawler.BootstrapError{Origin: origin, Reason: reason, Err: err}
			}
			return nil, err
		}
		if sess == nil || sess.Origin() != origin {
			return nil, &crawler.BootstrapError{
				Origin: origin,
				Reason: reason,
				Err:    errors.New("bootstrapper returned a session for another origin"),
			}
		}
		s.mu.Lock()
		s.sessions[origin] = sess
		delete(s.stale, origin)
		s.mu.Unlock()
		s.logger.Info("session ready",
			zap.String("origin", origin.String()),
			zap.String("reason", reason),
			zap.Int("cookies", len(sess.cookies)),
		)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("joined in-flight bootstrap", zap.String("origin", origin.String()))
	}
	return v.(*Session), nil
}

// Invalidate drops the origin's session; the next GetOrCreate re-bootstraps
// with reason "refresh".
func (s *Store) Invalidate(origin crawler.Origin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, origin)
	s.stale[origin] = struct{}{}
	s.logger.Info("session invalidated", zap.String("origin", origin.String()))
}

// Has reports whether a live session is held for origin.
func (s *Store) Has(origin crawler.Origin) bool {
	return s.lookup(origin) != nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(origin crawler.Origin) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[origin]
}

func (s *Store) reasonFor(origin crawler.Origin) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.stale[origin]; ok {
		return ReasonRefresh
	}
	return ReasonInitial
}
