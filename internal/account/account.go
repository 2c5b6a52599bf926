// Package account implements signup, login and the user status operations.
package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"example.com/socialfeed/internal/apperr"
	"example.com/socialfeed/internal/auth"
	"example.com/socialfeed/internal/logger"
	"example.com/socialfeed/internal/models"
	"example.com/socialfeed/internal/store"
)

var logg = logger.New()

const minPasswordLen = 5

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) error
}

// TokenIssuer signs identity tokens.
type TokenIssuer interface {
	Issue(email, userID string) (string, error)
}

type Service struct {
	users  store.UserStore
	hasher PasswordHasher
	tokens TokenIssuer
}

func NewService(users store.UserStore, hasher PasswordHasher, tokens TokenIssuer) *Service {
	return &Service{users: users, hasher: hasher, tokens: tokens}
}

type SignupInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// Signup validates the input, hashes the password and stores a new user.
// It returns the new user's id.
func (s *Service) Signup(ctx context.Context, in SignupInput) (string, error) {
	email, fields := validateSignup(&in)
	if len(fields) > 0 {
		return "", apperr.Validation("Validation failed.", fields...)
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return "", apperr.Server("hash password", err)
	}

	id, err := s.users.CreateUser(ctx, models.User{
		Email:    email,
		Name:     in.Name,
		Password: hashed,
		Status:   models.DefaultStatus,
	})
	if errors.Is(err, store.ErrEmailTaken) {
		return "", apperr.Validation("Validation failed.",
			apperr.FieldError{Field: "email", Message: "E-Mail address already exists!"})
	}
	if err != nil {
		return "", apperr.Server("create user", err)
	}

	logg.Info("account", "User signed up with user_id="+id)
	return id, nil
}

// Login checks the credentials and issues a token. Unknown email and wrong
// password produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	invalid := apperr.Unauthenticated("Invalid email or password.")

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, invalid
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		logg.Info("account", "Login for unknown email")
		return LoginResult{}, invalid
	}
	if err != nil {
		return LoginResult{}, apperr.Server("load user", err)
	}

	if err := s.hasher.Compare(user.Password, password); err != nil {
		if errors.Is(err, auth.ErrMismatch) {
			logg.Info("account", "Wrong password for user_id="+user.ID)
			return LoginResult{}, invalid
		}
		return LoginResult{}, apperr.Server("compare password", err)
	}

	token, err := s.tokens.Issue(user.Email, user.ID)
	if err != nil {
		return LoginResult{}, apperr.Server("issue token", err)
	}
	return LoginResult{Token: token, UserID: user.ID}, nil
}

// Status returns the user's status text.
func (s *Service) Status(ctx context.Context, userID string) (string, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Status, nil
}

// UpdateStatus overwrites the user's status. The text is stored as given.
func (s *Service) UpdateStatus(ctx context.Context, userID, status string) (models.User, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if err := s.users.UpdateUserStatus(ctx, userID, status); err != nil {
		return models.User{}, apperr.Server("update status", err)
	}
	user.Status = status
	return user, nil
}

func (s *Service) loadUser(ctx context.Context, userID string) (models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, apperr.NotFound("User not found.")
	}
	if err != nil {
		return models.User{}, apperr.Server("load user", err)
	}
	return user, nil
}

func validateSignup(in *SignupInput) (string, []apperr.FieldError) {
	var fields []apperr.FieldError

	email := normalizeEmail(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields = append(fields, apperr.FieldError{Field: "email", Message: "Please enter a valid email."})
	}

	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		fields = append(fields, apperr.FieldError{Field: "name", Message: "Name must not be empty."})
	}

	if len(strings.TrimSpace(in.Password)) < minPasswordLen {
		fields = append(fields, apperr.FieldError{Field: "password", Message: "Password must be at least 5 characters."})
	}
	return email, fields
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
