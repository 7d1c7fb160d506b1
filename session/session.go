/*
Package session authenticates back-office operators.

PURPOSE:
  Operators log in with email and password and receive a signed token.
  Every API call carries the token; the operator it names becomes the
  actor recorded on approvals and in the audit log.

FLOW:
  Login(email, password) → bcrypt check → HS256 token (jti, sub, exp)
  Authenticate(token)    → signature + expiry → revocation lookup → Session
  Logout(session)        → revoke jti until the token would have expired
  Invalidate(token)      → same as Logout, from the raw token of a refused call

  A token that fails Authenticate for any reason yields ErrUnauthorized;
  the API answers 401 and the client must discard it and log in again.

REVOCATIONS:
  MemoryRevocations for a single process and tests, RedisRevocations when
  several API instances share sessions.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrOperatorNotFound   = errors.New("operator not found")
)

// DefaultTTL is how long a token stays valid.
const DefaultTTL = 12 * time.Hour

// Operator is a back-office user.
type Operator struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

type OperatorStore interface {
	// OperatorByEmail returns ErrOperatorNotFound for unknown emails.
	OperatorByEmail(ctx context.Context, email string) (Operator, error)
	SaveOperator(ctx context.Context, op Operator) error
}

// Revocations remembers logged-out token IDs until they expire.
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Claims is the token payload.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Session is an authenticated operator. ID is the token's jti.
type Session struct {
	ID         string
	OperatorID string
	Email      string
	Name       string
	Role       string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Token      string
}

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	Operators   OperatorStore
	Revocations Revocations
	Secret      []byte
	TTL         time.Duration
	Now         func() time.Time
}

func NewManager(operators OperatorStore, revocations Revocations, secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		Operators:   operators,
		Revocations: revocations,
		Secret:      []byte(secret),
		TTL:         ttl,
		Now:         time.Now,
	}
}

// Login checks the credentials and issues a token. Unknown email and wrong
// password are indistinguishable to the caller.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, error) {
	op, err := m.Operators.OperatorByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrOperatorNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := CheckPassword(op.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	now := m.Now()
	expires := now.Add(m.TTL)
	claims := Claims{
		Email: op.Email,
		Name:  op.Name,
		Role:  op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   op.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return sessionOf(claims, signed), nil
}

// Authenticate validates a token and returns its session.
func (m *Manager) Authenticate(ctx context.Context, token string) (Session, error) {
	token = stripBearer(token)
	claims, err := m.parse(token, jwt.WithTimeFunc(m.Now), jwt.WithExpirationRequired())
	if err != nil {
		return Session{}, err
	}

	if m.Revocations != nil {
		revoked, err := m.Revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Session{}, fmt.Errorf("%w: token revoked", ErrUnauthorized)
		}
	}
	return sessionOf(*claims, token), nil
}

// Logout revokes the session's token.
func (m *Manager) Logout(ctx context.Context, s Session) error {
	if m.Revocations == nil {
		return nil
	}
	return m.Revocations.Revoke(ctx, s.ID, s.ExpiresAt)
}

// Invalidate revokes a raw token after a request with it was refused.
// Expired or foreign tokens are ignored: there is nothing left to revoke.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	if m.Revocations == nil {
		return nil
	}
	claims, err := m.parse(stripBearer(token), jwt.WithoutClaimsValidation())
	if err != nil || claims.ExpiresAt == nil || !m.Now().Before(claims.ExpiresAt.Time) {
		return nil
	}
	return m.Revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

func (m *Manager) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims := &Claims{}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.Secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: incomplete claims", ErrUnauthorized)
	}
	return claims, nil
}

func stripBearer(token string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
}

// Register creates or replaces an operator with a freshly hashed password.
func (m *Manager) Register(ctx context.Context, email, name, role, password string) (Operator, error) {
	if len(password) < 8 {
		return Operator{}, errors.New("password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Operator{}, err
	}
	email = normalizeEmail(email)
	op, err := m.Operators.OperatorByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrOperatorNotFound):
		op = Operator{ID: uuid.NewString(), Email: email, CreatedAt: m.Now().UTC()}
	case err != nil:
		return Operator{}, err
	}
	op.Name = name
	op.Role = role
	op.PasswordHash = hash
	if err := m.Operators.SaveOperator(ctx, op); err != nil {
		return Operator{}, err
	}
	return op, nil
}

func sessionOf(c Claims, token string) Session {
	s := Session{
		ID:         c.ID,
		OperatorID: c.Subject,
		Email:      c.Email,
		Name:       c.Name,
		Role:       c.Role,
		Token:      token,
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// =============================================================================
// PASSWORDS
// =============================================================================

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// =============================================================================
// CONTEXT
// =============================================================================

type contextKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok
}
