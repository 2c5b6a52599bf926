package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/socialfeed/internal/models"
)

// MockStore simulates Cassandra operations for testing.
type MockStore struct {
	mu          sync.Mutex
	userCounter int

	Users      map[string]models.User
	Emails     map[string]string
	Posts      map[string]models.Post
	ShouldFail bool            // flag to simulate failures
	FailOps    map[string]bool // fail only the named operations, e.g. "DeletePost"
}

// NewMock initializes a new mock store
func NewMock() *MockStore {
	return &MockStore{
		Users:   make(map[string]models.User),
		Emails:  make(map[string]string),
		Posts:   make(map[string]models.Post),
		FailOps: make(map[string]bool),
	}
}

func (m *MockStore) Close() {}

func (m *MockStore) fail(op string) error {
	if m.ShouldFail || m.FailOps[op] {
		return fmt.Errorf("mock: %s failed", op)
	}
	return nil
}

// CreateUser simulates creating a new user
func (m *MockStore) CreateUser(ctx context.Context, user models.User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateUser"); err != nil {
		return "", err
	}
	if _, taken := m.Emails[user.Email]; taken {
		return "", ErrEmailTaken
	}
	if user.ID == "" {
		m.userCounter++
		user.ID = fmt.Sprintf("user_%d", m.userCounter)
	}
	if user.Status == "" {
		user.Status = models.DefaultStatus
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Posts = []string{}
	m.Users[user.ID] = user
	m.Emails[user.Email] = user.ID
	return user.ID, nil
}

func (m *MockStore) GetUser(ctx context.Context, userID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetUser"); err != nil {
		return models.User{}, err
	}
	u, ok := m.Users[userID]
	if !ok {
		return models.User{}, ErrNotFound
	}
	u.Posts = append([]string{}, u.Posts...)
	return u, nil
}

func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.Lock()
	id, ok := m.Emails[email]
	failed := m.fail("GetUserByEmail")
	m.mu.Unlock()
	if failed != nil {
		return models.User{}, failed
	}
	if !ok {
		return models.User{}, ErrNotFound
	}
	return m.GetUser(ctx, id)
}

func (m *MockStore) UpdateUserStatus(ctx context.Context, userID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateUserStatus"); err != nil {
		return err
	}
	u, ok := m.Users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	m.Users[userID] = u
	return nil
}

// CreatePost stores the post and links it to its creator
func (m *MockStore) CreatePost(ctx context.Context, post models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreatePost"); err != nil {
		return err
	}
	post.Creator.Name = ""
	m.Posts[post.ID] = post
	if u, ok := m.Users[post.Creator.ID]; ok {
		u.Posts = append(u.Posts, post.ID)
		m.Users[u.ID] = u
	}
	return nil
}

func (m *MockStore) GetPost(ctx context.Context, postID string) (models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetPost"); err != nil {
		return models.Post{}, err
	}
	p, ok := m.Posts[postID]
	if !ok {
		return models.Post{}, ErrNotFound
	}
	return p, nil
}

func (m *MockStore) UpdatePost(ctx context.Context, post models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdatePost"); err != nil {
		return err
	}
	existing, ok := m.Posts[post.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Title = post.Title
	existing.Content = post.Content
	existing.ImageURL = post.ImageURL
	existing.UpdatedAt = post.UpdatedAt
	m.Posts[post.ID] = existing
	return nil
}

// DeletePost removes the post and unlinks it from its creator
func (m *MockStore) DeletePost(ctx context.Context, post models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeletePost"); err != nil {
		return err
	}
	delete(m.Posts, post.ID)
	if u, ok := m.Users[post.Creator.ID]; ok {
		kept := u.Posts[:0]
		for _, id := range u.Posts {
			if id != post.ID {
				kept = append(kept, id)
			}
		}
		u.Posts = kept
		m.Users[u.ID] = u
	}
	return nil
}

func (m *MockStore) CountPosts(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountPosts"); err != nil {
		return 0, err
	}
	return len(m.Posts), nil
}

// ListPosts returns posts newest first, mirroring the timeline clustering order
func (m *MockStore) ListPosts(ctx context.Context, offset, limit int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListPosts"); err != nil {
		return nil, err
	}
	all := make([]models.Post, 0, len(m.Posts))
	for _, p := range m.Posts {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) || limit <= 0 {
		return []models.Post{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// ---------------------------------------------
// MockStoreFail always returns errors for negative tests
type MockStoreFail struct{}

func (m *MockStoreFail) Close() {}

func (m *MockStoreFail) CreateUser(ctx context.Context, user models.User) (string, error) {
	return "", errors.New("mock store create user failed")
}

func (m *MockStoreFail) GetUser(ctx context.Context, userID string) (models.User, error) {
	return models.User{}, errors.New("mock store get user failed")
}

func (m *MockStoreFail) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return models.User{}, errors.New("mock store get user by email failed")
}

func (m *MockStoreFail) UpdateUserStatus(ctx context.Context, userID, status string) error {
	return errors.New("mock store update status failed")
}

func (m *MockStoreFail) CreatePost(ctx context.Context, post models.Post) error {
	return errors.New("mock store create post failed")
}

func (m *MockStoreFail) GetPost(ctx context.Context, postID string) (models.Post, error) {
	return models.Post{}, errors.New("mock store get post failed")
}

func (m *MockStoreFail) UpdatePost(ctx context.Context, post models.Post) error {
	return errors.New("mock store update post failed")
}

func (m *MockStoreFail) DeletePost(ctx context.Context, post models.Post) error {
	return errors.New("mock store delete post failed")
}

func (m *MockStoreFail) CountPosts(ctx context.Context) (int, error) {
	return 0, errors.New("mock store count posts failed")
}

func (m *MockStoreFail) ListPosts(ctx context.Context, offset, limit int) ([]models.Post, error) {
	return nil, errors.New("mock store list posts failed")
}
