package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"medistock/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"legacy": {Username: "legacy", Password: "plaintext", Role: "manager", Active: true},
		},
	}

	auth := NewAuthManager("test-secret", time.Hour, stub)

	stub.mu.Lock()
	stored := stub.users["legacy"].Password
	updates := stub.updates
	stub.mu.Unlock()
	if !strings.HasPrefix(stored, "$2") {
		t.Fatalf("expected stored password to be bcrypt hashed, got %q", stored)
	}
	if updates != 1 {
		t.Fatalf("expected one password upgrade write, got %d", updates)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "legacy", Password: "plaintext"}); err != nil {
		t.Fatalf("login with original password after upgrade failed: %v", err)
	}
}

func TestAuthManagerTokenRoundTrip(t *testing.T) {
	hash, err := hashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"alice": {Username: "alice", Password: hash, Role: "admin", Active: true},
		},
	}
	auth := NewAuthManager("test-secret", time.Hour, stub)

	resp, err := auth.Login(domain.LoginRequest{Username: "alice", Password: "secret123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "alice" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestAuthManagerRejectsInactiveAccount(t *testing.T) {
	hash, err := hashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"bob": {Username: "bob", Password: hash, Role: "manager", Active: false},
		},
	}
	auth := NewAuthManager("test-secret", time.Hour, stub)

	if _, err := auth.Login(domain.LoginRequest{Username: "bob", Password: "secret123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestAuthManagerRejectsTamperedToken(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, nil)
	other := NewAuthManager("other-secret", time.Hour, nil)

	token, err := other.sign("mallory", "admin", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("token signed with a different secret must be rejected")
	}
}
