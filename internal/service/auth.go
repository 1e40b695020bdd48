package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
)

// Claims is the JWT payload. The token id (jti) is the session id.
type Claims struct {
	Role  model.Role `json:"role"`
	Email string     `json:"email"`
	jwt.RegisteredClaims
}

// AuthService registers users and issues session tokens.
type AuthService struct {
	users  repository.UserStore
	secret []byte
	ttl    time.Duration
}

// NewAuthService constructs an AuthService signing HS256 tokens with secret.
func NewAuthService(users repository.UserStore, secret string, ttl time.Duration) *AuthService {
	return &AuthService{users: users, secret: []byte(secret), ttl: ttl}
}

// Register creates an account with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         req.Role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, storeErr("create user", err)
	}
	return user, nil
}

// SignIn checks the password and opens a session.
func (s *AuthService) SignIn(ctx context.Context, req model.LoginRequest) (*model.AuthResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	user, err := s.users.UserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr("find user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.users.CreateSession(ctx, session); err != nil {
		return nil, storeErr("create session", err)
	}

	claims := Claims{
		Role:  user.Role,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &model.AuthResponse{Token: token, ExpiresAt: session.ExpiresAt, User: *user}, nil
}

// Authenticate verifies the token and that its session has not been signed out.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.Principal, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	session, err := s.users.SessionByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session ended", ErrUnauthorized)
		}
		return nil, storeErr("load session", err)
	}
	if session.UserID != claims.Subject {
		return nil, ErrUnauthorized
	}
	return &model.Principal{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: session.ID,
	}, nil
}

// CurrentUser loads the signed-in account, so a client restoring a saved
// token can route on the stored role.
func (s *AuthService) CurrentUser(ctx context.Context, p *model.Principal) (*model.User, error) {
	if p == nil {
		return nil, ErrUnauthorized
	}
	user, err := s.users.UserByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
		}
		return nil, storeErr("load user", err)
	}
	return user, nil
}

// SignOut ends the token's session. Signing out twice is not an error.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	if err := s.users.DeleteSession(ctx, claims.ID); err != nil {
		return storeErr("delete session", err)
	}
	return nil
}

func (s *AuthService) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.ID == "" || !claims.Role.Valid() {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
