package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository/memory"
)

const testSecret = "test-secret"

func newAuth(t *testing.T) *AuthService {
	t.Helper()
	return NewAuthService(memory.New(), testSecret, time.Hour)
}

func TestRegisterValidation(t *testing.T) {
	auth := newAuth(t)

	tests := []struct {
		name  string
		req   model.RegisterRequest
		field string
	}{
		{"bad email", model.RegisterRequest{Email: "not-an-email", Password: "secret1", Role: model.RoleDriver}, "email"},
		{"short password", model.RegisterRequest{Email: "a@b.com", Password: "12345", Role: model.RoleDriver}, "password"},
		{"unknown role", model.RegisterRequest{Email: "a@b.com", Password: "secret1", Role: "valet"}, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Register(context.Background(), tt.req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := ve.Fields[tt.field]; !ok {
				t.Fatalf("expected error on %s, got %v", tt.field, ve.Fields)
			}
		})
	}
}

func TestRegisterRejectsTakenEmail(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, model.RegisterRequest{Email: "Ana@Example.com", Password: "secret1", Role: model.RoleDriver}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := auth.Register(ctx, model.RegisterRequest{Email: "ana@example.com", Password: "other12", Role: model.RoleAdmin})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInAuthenticateSignOut(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, model.RegisterRequest{Email: "admin@example.com", Password: "secret1", Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := auth.SignIn(ctx, model.LoginRequest{Email: "admin@example.com", Password: "wrong!"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := auth.SignIn(ctx, model.LoginRequest{Email: "nobody@example.com", Password: "secret1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	resp, err := auth.SignIn(ctx, model.LoginRequest{Email: "ADMIN@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if resp.User.ID != user.ID || resp.Token == "" {
		t.Fatalf("unexpected auth response %+v", resp)
	}

	p, err := auth.Authenticate(ctx, resp.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.UserID != user.ID || p.Role != model.RoleAdmin {
		t.Fatalf("unexpected principal %+v", p)
	}

	if err := auth.SignOut(ctx, resp.Token); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := auth.Authenticate(ctx, resp.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after sign out, got %v", err)
	}
}

func TestAuthenticateRejectsForeignTokens(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()

	if _, err := auth.Authenticate(ctx, "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: model.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "s1",
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("another-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Authenticate(ctx, forged); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for forged token, got %v", err)
	}
}

func TestCurrentUser(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()

	created, err := auth.Register(ctx, model.RegisterRequest{Email: "ana@example.com", Password: "secret1", Role: model.RoleDriver})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := auth.SignIn(ctx, model.LoginRequest{Email: "ana@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	p, err := auth.Authenticate(ctx, resp.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	user, err := auth.CurrentUser(ctx, p)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if user.ID != created.ID || user.Role != model.RoleDriver {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, err := auth.CurrentUser(ctx, &model.Principal{UserID: "gone"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a missing account, got %v", err)
	}
	if _, err := auth.CurrentUser(ctx, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without a principal, got %v", err)
	}
}
