package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/medremind/apiserver/internal/store"
	"github.com/medremind/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// CredentialStore defines the persistence operations the identity service
// needs: username-keyed lookup and creation with a uniqueness guarantee,
// plus email lookup for login disambiguation.
type CredentialStore interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	ListByEmail(ctx context.Context, email string) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// IdentityService implements signup and login, including the
// username-vs-email resolution rules.
type IdentityService struct {
	store  CredentialStore
	logger *slog.Logger
}

func NewIdentityService(store CredentialStore, logger *slog.Logger) *IdentityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityService{store: store, logger: logger}
}

// GetByID loads a user by id.
func (s *IdentityService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.store.GetByID(ctx, id)
}

// Signup registers a new user. An empty email is normalized to absent
// before validation and storage. Uniqueness is enforced by the store's
// constraint, not a racy pre-check.
func (s *IdentityService) Signup(ctx context.Context, username, password, email string) (types.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	fieldErrs := FieldErrors{}
	if username == "" {
		fieldErrs["username"] = "This field is required."
	}
	switch {
	case password == "":
		fieldErrs["password"] = "This field is required."
	case len(password) < minPasswordLength:
		fieldErrs["password"] = "Ensure this field has at least 8 characters."
	}
	if email != "" && !strings.Contains(email, "@") {
		fieldErrs["email"] = "Enter a valid email address."
	}
	if len(fieldErrs) > 0 {
		return types.User{}, fieldErrs
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, err
	}

	user := types.User{
		Username:     username,
		PasswordHash: string(hashed),
	}
	if email != "" {
		user.Email = &email
	}

	created, err := s.store.Create(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, FieldErrors{"username": "A user with that username already exists."}
		}
		return types.User{}, err
	}

	s.logger.Info("user signed up", "user_id", created.ID, "username", created.Username)
	return created, nil
}

// Login authenticates a user by username or email. When an email is given
// it is resolved to a username first; zero matches fail exactly like a
// wrong password so the response never leaks which identifier was wrong.
func (s *IdentityService) Login(ctx context.Context, username, email, password string) (types.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if password == "" {
		return types.User{}, &ValidationError{Detail: "Password is required"}
	}

	if email != "" {
		matches, err := s.store.ListByEmail(ctx, email)
		if err != nil {
			return types.User{}, err
		}
		switch len(matches) {
		case 0:
			return types.User{}, ErrInvalidCredentials
		case 1:
			username = matches[0].Username
		default:
			s.logger.Warn("email resolves to multiple accounts", "email", email, "count", len(matches))
			return types.User{}, ErrAmbiguousEmail
		}
	} else if username == "" {
		return types.User{}, &ValidationError{Detail: "Username or email is required"}
	}

	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}

	return user, nil
}
