package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/models"
)

var (
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("user with email exists")

	// ErrInvalidCredentials is returned on a failed login. It does not say
	// whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrForbidden is returned when a principal's role may not perform an operation.
	ErrForbidden = errors.New("insufficient permissions")
)

// Claims is the JWT payload issued at login.
type Claims struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service handles registration, login and token verification. Registration
// creates the user together with a zero-balance account in the default
// currency.
type Service struct {
	users           interfaces.UserStore
	accounts        interfaces.AccountStore
	secret          []byte
	tokenTTL        time.Duration
	defaultCurrency string
	logger          *zap.Logger
}

func NewService(users interfaces.UserStore, accounts interfaces.AccountStore, secret string, tokenTTL time.Duration, defaultCurrency string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		users:           users,
		accounts:        accounts,
		secret:          []byte(secret),
		tokenTTL:        tokenTTL,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

func (s *Service) Register(ctx context.Context, email, password, fullName string, role models.Role) (models.User, error) {
	if email == "" || password == "" {
		return models.User{}, fmt.Errorf("%w: email and password are required", ErrInvalidCredentials)
	}
	if role == "" {
		role = models.RoleCustomer
	}

	_, err := s.users.UserByEmail(ctx, email)
	switch {
	case err == nil:
		return models.User{}, ErrEmailTaken
	case !errors.Is(err, interfaces.ErrNotFound):
		return models.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	now := time.Now().UTC()
	user, err := s.users.CreateUser(ctx, models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
		Role:         role,
		CreatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, err
	}

	if _, err := s.accounts.Create(ctx, models.Account{
		ID:           uuid.NewString(),
		OwnerID:      user.ID,
		Balance:      decimal.Zero,
		CurrencyCode: s.defaultCurrency,
		CreatedAt:    now,
	}); err != nil {
		return models.User{}, fmt.Errorf("creating account for user %s: %w", user.ID, err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

// Login verifies the credentials and returns a signed bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, models.User, error) {
	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return "", models.User{}, ErrInvalidCredentials
		}
		return "", models.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", models.User{}, ErrInvalidCredentials
	}

	now := time.Now()
	claims := &Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", models.User{}, err
	}
	return token, user, nil
}

// ParseToken verifies a bearer token and returns the principal it names.
func (s *Service) ParseToken(tokenStr string) (models.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Principal{}, ErrInvalidToken
	}
	return models.Principal{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// RoleAuthorizer is the explicit authorization check at the engine boundary.
// Customers and admins may move money; auditors are read-only.
type RoleAuthorizer struct{}

func (RoleAuthorizer) Allows(principal models.Principal, op models.TransactionType) error {
	switch principal.Role {
	case models.RoleCustomer, models.RoleAdmin:
		return nil
	}
	return fmt.Errorf("%w: role %q may not perform %s", ErrForbidden, principal.Role, op)
}

var _ interfaces.Authorizer = RoleAuthorizer{}
