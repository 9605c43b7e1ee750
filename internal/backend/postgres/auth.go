package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// AuthConfig configures the session API.
type AuthConfig struct {
	Secret          string
	SessionDuration time.Duration
	// SignInRate limits sign-in attempts per email; zero disables throttling.
	SignInRate  rate.Limit
	SignInBurst int
	BcryptCost  int
}

// Auth implements backend.Auth over the auth_users table. It holds the
// session of a single client process.
type Auth struct {
	db     *pgxpool.Pool
	cfg    AuthConfig
	events *backend.Broadcaster
	now    func() time.Time

	mu       sync.Mutex
	token    string
	limiters map[string]*rate.Limiter
}

// NewAuth creates the auth API.
func NewAuth(db *pgxpool.Pool, cfg AuthConfig) *Auth {
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.SignInBurst <= 0 {
		cfg.SignInBurst = 1
	}
	return &Auth{
		db:       db,
		cfg:      cfg,
		events:   backend.NewBroadcaster(0),
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Close stops auth event delivery.
func (a *Auth) Close() {
	a.events.Close()
}

type signUpMetadata struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// SignUp creates an auth user. The profile row is created by the
// on_auth_user_created trigger from the metadata.
func (a *Auth) SignUp(ctx context.Context, input backend.SignUpInput) (*backend.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), a.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	metadata, err := json.Marshal(signUpMetadata{Name: input.Name, Role: string(input.Role)})
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	query := `
		INSERT INTO auth_users (email, password_hash, metadata)
		VALUES ($1, $2, $3)
		RETURNING id::text, email
	`
	var acc backend.Account
	err = a.db.QueryRow(ctx, query, normalizeEmail(input.Email), string(hash), metadata).Scan(&acc.ID, &acc.Email)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return nil, backend.ErrEmailExists
		}
		return nil, fmt.Errorf("sign up: %w", err)
	}
	return &acc, nil
}

// SignIn verifies credentials, stores the new session and emits SIGNED_IN.
func (a *Auth) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	email = normalizeEmail(email)
	if !a.limiter(email).Allow() {
		return nil, backend.ErrRateLimited
	}

	var id, hash string
	err := a.db.QueryRow(ctx,
		`SELECT id::text, password_hash FROM auth_users WHERE email = $1`,
		email,
	).Scan(&id, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backend.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("sign in: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, backend.ErrInvalidCredentials
	}

	session, err := a.issue(id, email)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.token = session.AccessToken
	a.mu.Unlock()

	copied := *session
	a.events.Emit(backend.AuthEvent{Type: backend.AuthEventSignedIn, Session: &copied})
	return session, nil
}

// SignOut drops the local session and emits SIGNED_OUT.
func (a *Auth) SignOut(_ context.Context) error {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()

	a.events.Emit(backend.AuthEvent{Type: backend.AuthEventSignedOut})
	return nil
}

// Session returns the current session when its token is still valid.
func (a *Auth) Session(_ context.Context) (*backend.Session, error) {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()

	if token == "" {
		return nil, nil
	}

	session, err := a.parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil
		}
		return nil, fmt.Errorf("validate session: %w", err)
	}
	return session, nil
}

// OnAuthStateChange registers an auth listener.
func (a *Auth) OnAuthStateChange(listener backend.AuthListener) func() {
	return a.events.Subscribe(listener)
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (a *Auth) issue(userID, email string) (*backend.Session, error) {
	now := a.now()
	expiresAt := now.Add(a.cfg.SessionDuration)

	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	return &backend.Session{
		UserID:      userID,
		Email:       email,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}

func (a *Auth) parse(token string) (*backend.Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}

	session := &backend.Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		AccessToken: token,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (a *Auth) limiter(email string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.SignInRate == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	l, ok := a.limiters[email]
	if !ok {
		l = rate.NewLimiter(a.cfg.SignInRate, a.cfg.SignInBurst)
		a.limiters[email] = l
	}
	return l
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
