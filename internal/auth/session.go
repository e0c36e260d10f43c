package auth

import (
	"context"
	"sync"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/store"
)

// ActorSource reports who is operating right now.
type ActorSource interface {
	CurrentActor(ctx context.Context) (domain.Actor, bool)
}

// Session holds the single logged-in operator of a terminal.
type Session struct {
	mu      sync.RWMutex
	users   store.UserStore
	current *domain.Actor
}

func NewSession(users store.UserStore) *Session {
	return &Session{users: users}
}

// Login replaces the current operator once the credentials check out. A
// failed login leaves the previous operator in place.
func (s *Session) Login(ctx context.Context, username string, password string) (domain.Actor, error) {
	actor, err := Authenticate(ctx, s.users, username, password)
	if err != nil {
		return domain.Actor{}, err
	}
	s.mu.Lock()
	s.current = &actor
	s.mu.Unlock()
	return actor, nil
}

func (s *Session) Logout() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *Session) CurrentActor(_ context.Context) (domain.Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Actor{}, false
	}
	return *s.current, true
}

// StaticActor is an ActorSource for an actor already known, such as one
// taken from a request token.
type StaticActor domain.Actor

func (a StaticActor) CurrentActor(_ context.Context) (domain.Actor, bool) {
	if a.Username == "" {
		return domain.Actor{}, false
	}
	return domain.Actor(a), true
}
