package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/store"
	"tokokasir/backend/internal/store/memory"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
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

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
			"retired": {
				Username: "retired",
				Password: "retired123",
				Role:     domain.RoleCashier,
				Active:   false,
			},
		},
	}
}

func TestAuthenticateUpgradesLegacyPlainPassword(t *testing.T) {
	users := legacyStore()

	actor, err := Authenticate(context.Background(), users, "Admin", "admin123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected role %q", actor.Role)
	}
	if users.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", users.updates)
	}
	if !strings.HasPrefix(users.users["admin"].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users.users["admin"].Password)
	}

	if _, err := Authenticate(context.Background(), users, "admin", "admin123"); err != nil {
		t.Fatalf("login against upgraded hash failed: %v", err)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	users := legacyStore()
	for _, tc := range []struct{ user, pass string }{
		{"admin", "wrong"},
		{"ghost", "admin123"},
		{"", "x"},
	} {
		if _, err := Authenticate(context.Background(), users, tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials for %q, got %v", tc.user, err)
		}
	}
	if users.updates != 0 {
		t.Fatalf("failed logins must not rewrite passwords")
	}
	if _, err := Authenticate(context.Background(), users, "retired", "retired123"); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected inactive account, got %v", err)
	}
}

func TestRegisterStoresPasswordHash(t *testing.T) {
	users := legacyStore()
	account, err := Register(context.Background(), users, "KasirBaru", "pass1234", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if account.Username != "kasirbaru" || account.Role != domain.RoleCashier {
		t.Fatalf("unexpected account %+v", account)
	}
	if users.users["kasirbaru"].Password == "pass1234" {
		t.Fatalf("expected password to be hashed")
	}
	if _, err := Authenticate(context.Background(), users, "kasirbaru", "pass1234"); err != nil {
		t.Fatalf("login with registered user failed: %v", err)
	}

	if _, err := Register(context.Background(), users, "abc", "pass1234", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected short username rejection, got %v", err)
	}
	if _, err := Register(context.Background(), users, "someone", "pass1234", "owner"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unknown role rejection, got %v", err)
	}
}

func TestSessionLoginLogout(t *testing.T) {
	session := NewSession(legacyStore())
	ctx := context.Background()

	if _, ok := session.CurrentActor(ctx); ok {
		t.Fatalf("new session must have no actor")
	}
	if _, err := session.Login(ctx, "admin", "admin123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := session.Login(ctx, "admin", "nope"); err == nil {
		t.Fatalf("expected bad password to fail")
	}
	actor, ok := session.CurrentActor(ctx)
	if !ok || actor.Username != "admin" {
		t.Fatalf("failed login must keep previous actor, got %+v", actor)
	}
	session.Logout()
	if _, ok := session.CurrentActor(ctx); ok {
		t.Fatalf("expected no actor after logout")
	}
}

func TestGuardedLedgerPermissions(t *testing.T) {
	s := memory.New()
	s.AddBatch(domain.Batch{ItemCode: "A", QtyShelf: 5, QtyStore: 5, QtyMain: 5})
	ctx := context.Background()

	fromMain := domain.StockTransfer{ItemCode: "A", From: domain.PoolMain, To: domain.PoolShelf, Qty: 1}
	shelfToStore := domain.StockTransfer{ItemCode: "A", From: domain.PoolShelf, To: domain.PoolStore, Qty: 1}
	disc := domain.BatchDiscountRecord{BatchID: 1, Type: "FIXED", Active: true}

	anonymous := NewGuardedLedger(s, StaticActor{})
	cashier := NewGuardedLedger(s, StaticActor{Username: "kasir", Role: domain.RoleCashier})
	manager := NewGuardedLedger(s, StaticActor{Username: "boss", Role: domain.RoleManager})

	for name, g := range map[string]*GuardedLedger{"anonymous": anonymous, "cashier": cashier} {
		if err := g.Transfer(ctx, fromMain); !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("%s: expected permission denied on main transfer, got %v", name, err)
		}
		if _, err := g.SaveBatchDiscount(ctx, disc); !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("%s: expected permission denied on discount, got %v", name, err)
		}
	}
	if err := cashier.Transfer(ctx, shelfToStore); err != nil {
		t.Fatalf("cashier shelf to store should pass, got %v", err)
	}
	if _, err := cashier.ListBatches(ctx, "A", domain.PoolMain); err != nil {
		t.Fatalf("reads are unrestricted, got %v", err)
	}

	if err := manager.Transfer(ctx, fromMain); err != nil {
		t.Fatalf("manager transfer: %v", err)
	}
	if _, err := manager.SaveBatchDiscount(ctx, disc); err != nil {
		t.Fatalf("manager discount: %v", err)
	}

	b, _ := s.GetBatch(ctx, 1)
	if b.QtyMain != 4 || b.QtyShelf != 5 || b.QtyStore != 6 {
		t.Fatalf("unexpected batch after transfers: %+v", b)
	}
}

func TestGuardedLedgerWithSession(t *testing.T) {
	s := memory.New()
	s.AddBatch(domain.Batch{ItemCode: "A", QtyMain: 2})
	users := legacyStore()
	session := NewSession(users)
	guard := NewGuardedLedger(s, session)
	ctx := context.Background()
	transfer := domain.StockTransfer{ItemCode: "A", From: domain.PoolMain, To: domain.PoolStore, Qty: 1}

	if err := guard.Transfer(ctx, transfer); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected denial before login, got %v", err)
	}
	if _, err := session.Login(ctx, "admin", "admin123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := guard.Transfer(ctx, transfer); err != nil {
		t.Fatalf("expected admin transfer to pass, got %v", err)
	}
	session.Logout()
	if err := guard.Transfer(ctx, transfer); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected denial after logout, got %v", err)
	}
}

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("0123456789abcdef0123456789abcdef", time.Hour)
	resp, err := tokens.Issue(domain.Actor{Username: "boss", Role: domain.RoleManager})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	actor, err := tokens.Parse(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "boss" || actor.Role != domain.RoleManager {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewTokens("another-secret-another-secret-xx", time.Hour)
	if _, err := other.Parse(resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign token to fail, got %v", err)
	}
}

func TestTokensExpire(t *testing.T) {
	tokens := NewTokens("0123456789abcdef0123456789abcdef", time.Minute)
	past := time.Now().Add(-2 * time.Hour)
	tokens.now = func() time.Time { return past }
	resp, err := tokens.Issue(domain.Actor{Username: "kasir", Role: domain.RoleCashier})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tokens.now = time.Now
	if _, err := tokens.Parse(resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}
