package store

import (
	"context"
	"errors"
	"time"

	"example.com/socialfeed/internal/models"
	"github.com/gocql/gocql"
)

// --- User operations ---

// CreateUser inserts a new user and returns its id. The email is claimed
// first with a lightweight transaction so two signups cannot share it.
func (s *Store) CreateUser(ctx context.Context, user models.User) (string, error) {
	if user.ID == "" {
		user.ID = gocql.TimeUUID().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Status == "" {
		user.Status = models.DefaultStatus
	}

	result := make(map[string]interface{})
	applied, err := s.Session.Query(`
		INSERT INTO users_by_email (email, user_id)
		VALUES (?, ?) IF NOT EXISTS`,
		user.Email, user.ID,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to claim email", err)
		return "", err
	}
	if !applied {
		return "", ErrEmailTaken
	}

	err = s.Session.Query(`
		INSERT INTO users (user_id, email, password, name, status, post_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Password, user.Name, user.Status, []string{}, user.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		logg.Error("store", "Failed to create user in main table", err)
		// release the email so the signup can be retried
		if delErr := s.Session.Query(
			`DELETE FROM users_by_email WHERE email = ?`, user.Email,
		).WithContext(ctx).Exec(); delErr != nil {
			logg.Error("store", "Failed to release email claim", delErr)
		}
		return "", err
	}

	logg.Info("store", "User created successfully (email anonymized)")
	return user.ID, nil
}

// GetUser returns the user with the given id or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	var u models.User
	err := s.Session.Query(`
		SELECT user_id, email, password, name, status, post_ids, created_at
		FROM users WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Scan(&u.ID, &u.Email, &u.Password, &u.Name, &u.Status, &u.Posts, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.User{}, ErrNotFound
		}
		logg.Error("store", "Failed to query user by id", err)
		return models.User{}, err
	}
	if u.Posts == nil {
		u.Posts = []string{}
	}
	return u, nil
}

// GetUserByEmail resolves the email index and loads the user.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var id string
	err := s.Session.Query(
		`SELECT user_id FROM users_by_email WHERE email = ?`,
		email,
	).WithContext(ctx).Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.User{}, ErrNotFound
		}
		logg.Error("store", "Failed to query user by email", err)
		return models.User{}, err
	}
	return s.GetUser(ctx, id)
}

func (s *Store) UpdateUserStatus(ctx context.Context, userID, status string) error {
	if err := s.Session.Query(
		`UPDATE users SET status = ? WHERE user_id = ?`,
		status, userID,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to update user status", err)
		return err
	}
	return nil
}
