package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sati-chat/internal/config"
	"sati-chat/internal/logger"
	"sati-chat/internal/repository/db"
	"sati-chat/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const UserContextKey contextKey = "user"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	// ErrSessionRevoked is returned for tokens issued before a sign-out
	ErrSessionRevoked = errors.New("session has been revoked")
)

// Users is the slice of the repository the auth manager needs
type Users interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	BumpSessionVersion(ctx context.Context, email string) error
	DeleteUser(ctx context.Context, email string) error
}

// InputError wraps a rejected credential field
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

type Claims struct {
	Email          string `json:"email"`
	SessionVersion int    `json:"sv"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	Email   string `json:"email"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Manager issues and checks session tokens
type Manager struct {
	users     Users
	secret    []byte
	ttl       time.Duration
	validator *validation.AuthRequestValidator
	now       func() time.Time
}

// NewManager creates a Manager. The signing secret must pass cfg.Validate.
func NewManager(users Users, cfg config.AuthConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ttl := cfg.TokenExpiration
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		users:     users,
		secret:    cfg.JWTSecret,
		ttl:       ttl,
		validator: validation.NewAuthRequestValidator(),
		now:       time.Now,
	}, nil
}

// sendError sends a standardized JSON error response
func sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and returns a token for it
func (m *Manager) Register(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if err := m.validator.ValidateRegisterRequest(email, password); err != nil {
		return "", &InputError{Err: err}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}

	user, err := m.users.CreateUser(ctx, email, string(hash))
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("error creating user: %w", err)
	}

	return m.GenerateToken(user)
}

// Login checks credentials and returns a fresh token
func (m *Manager) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if err := m.validator.ValidateLoginRequest(email, password); err != nil {
		return "", &InputError{Err: err}
	}

	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("error loading user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return m.GenerateToken(user)
}

// GenerateToken signs a token bound to the user's current session version
func (m *Manager) GenerateToken(user *db.User) (string, error) {
	now := m.now()
	claims := Claims{
		Email:          user.Email,
		SessionVersion: user.SessionVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken verifies the signature and expiry, then rejects tokens whose
// session version is older than the account's.
func (m *Manager) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Email == "" {
		return nil, jwt.ErrSignatureInvalid
	}

	user, err := m.users.GetUserByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	if user.SessionVersion != claims.SessionVersion {
		return nil, ErrSessionRevoked
	}

	return claims, nil
}

// SignOut invalidates every token issued to email so far
func (m *Manager) SignOut(ctx context.Context, email string) error {
	if err := m.users.BumpSessionVersion(ctx, email); err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("error revoking sessions: %w", err)
	}
	return nil
}

// TerminateAccount signs the user out everywhere and removes the account
func (m *Manager) TerminateAccount(ctx context.Context, email string) error {
	if err := m.SignOut(ctx, email); err != nil {
		return err
	}
	if err := m.users.DeleteUser(ctx, email); err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("error deleting user: %w", err)
	}
	logger.Log.WithField("email", email).Info("[AUTH] Account terminated")
	return nil
}

// UserFromContext returns the authenticated email, or "" for anonymous requests
func UserFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserContextKey).(string)
	return email
}

// LoginHandler authenticates user and returns JWT token
func (m *Manager) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	token, err := m.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Log.WithField("email", req.Email).Warn("[AUTH] Login failed")
			sendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
			return
		}
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			sendError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		logger.Log.WithError(err).Error("[AUTH] Error during login")
		sendError(w, http.StatusInternalServerError, "Error logging in", err)
		return
	}

	logger.Log.WithField("email", normalizeEmail(req.Email)).Info("[AUTH] User logged in successfully")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{Token: token, Email: normalizeEmail(req.Email)})
}

// RegisterHandler creates a new user account
func (m *Manager) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	token, err := m.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			sendError(w, http.StatusConflict, "Email already registered", nil)
			return
		}
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			sendError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		logger.Log.WithError(err).Error("[AUTH] Error during registration")
		sendError(w, http.StatusInternalServerError, "Error creating user", err)
		return
	}

	email := normalizeEmail(req.Email)
	logger.Log.WithField("email", email).Info("[AUTH] User registered successfully")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(RegisterResponse{
		Message: "User registered successfully",
		Token:   token,
		Email:   email,
	})
}

// LogoutHandler revokes all of the caller's tokens
func (m *Manager) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	email := UserFromContext(r.Context())
	if err := m.SignOut(r.Context(), email); err != nil {
		logger.Log.WithError(err).Error("[AUTH] Error during logout")
		sendError(w, http.StatusInternalServerError, "Error signing out", err)
		return
	}
	logger.Log.WithField("email", email).Info("[AUTH] User signed out")
	w.WriteHeader(http.StatusNoContent)
}

// AuthMiddleware rejects requests without a valid bearer token
func (m *Manager) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			sendError(w, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}
		m.authenticate(w, r, authHeader, next)
	}
}

// OptionalAuthMiddleware lets anonymous requests through but still rejects
// a bad token.
func (m *Manager) OptionalAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}
		m.authenticate(w, r, authHeader, next)
	}
}

func (m *Manager) authenticate(w http.ResponseWriter, r *http.Request, authHeader string, next http.HandlerFunc) {
	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
		sendError(w, http.StatusUnauthorized, "Invalid authorization header format", nil)
		return
	}

	claims, err := m.ValidateToken(r.Context(), bearerToken[1])
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"path": r.URL.Path, "error": err.Error()}).Debug("[AUTH] Token rejected")
		sendError(w, http.StatusUnauthorized, "Invalid token", err)
		return
	}

	ctx := context.WithValue(r.Context(), UserContextKey, claims.Email)
	next.ServeHTTP(w, r.WithContext(ctx))
}
