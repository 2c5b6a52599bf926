// Package feed implements paginated listing and the owner-checked post
// mutations, including image cleanup and change notification.
package feed

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"example.com/socialfeed/internal/apperr"
	"example.com/socialfeed/internal/logger"
	"example.com/socialfeed/internal/models"
	"example.com/socialfeed/internal/store"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

var logg = logger.New()

const (
	DefaultPageSize = 2
	minTextLen      = 5
)

var (
	titlePolicy   = bluemonday.StrictPolicy()
	contentPolicy = bluemonday.UGCPolicy()
)

// ImageStore is what the feed needs from stored post images.
type ImageStore interface {
	Remove(path string) error
	Exists(path string) bool
}

// EventPublisher broadcasts post changes without waiting for delivery.
type EventPublisher interface {
	Publish(ev models.PostEvent)
}

type Service struct {
	users    store.UserStore
	posts    store.PostStore
	images   ImageStore
	events   EventPublisher
	pageSize int
	now      func() time.Time
}

func NewService(users store.UserStore, posts store.PostStore, images ImageStore, events EventPublisher, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Service{
		users:    users,
		posts:    posts,
		images:   images,
		events:   events,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// PostInput carries the client supplied fields of a create or edit.
// NewImage is the path of a file uploaded with this request; Image is a
// reference to an already stored image carried forward on edit.
type PostInput struct {
	Title    string
	Content  string
	NewImage string
	Image    string
}

type Page struct {
	Posts      []models.Post `json:"posts"`
	TotalItems int           `json:"totalItems"`
}

// List returns the given 1-based page of posts, newest first.
func (s *Service) List(ctx context.Context, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	total, err := s.posts.CountPosts(ctx)
	if err != nil {
		return Page{}, apperr.Server("count posts", err)
	}
	posts, err := s.posts.ListPosts(ctx, (page-1)*s.pageSize, s.pageSize)
	if err != nil {
		return Page{}, apperr.Server("list posts", err)
	}
	if err := s.resolveCreators(ctx, posts); err != nil {
		return Page{}, err
	}
	return Page{Posts: posts, TotalItems: total}, nil
}

// Create stores a post owned by userID and links it to the user.
func (s *Service) Create(ctx context.Context, userID string, in PostInput) (models.Post, models.Creator, error) {
	title, content, err := validate(in)
	if err != nil {
		return models.Post{}, models.Creator{}, err
	}
	if in.NewImage == "" {
		return models.Post{}, models.Creator{}, apperr.Validation("No image provided.")
	}

	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Post{}, models.Creator{}, apperr.NotFound("User not found.")
	}
	if err != nil {
		return models.Post{}, models.Creator{}, apperr.Server("load creator", err)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	creator := models.Creator{ID: user.ID, Name: user.Name}
	post := models.Post{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		ImageURL:  in.NewImage,
		Creator:   creator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.posts.CreatePost(ctx, post); err != nil {
		return models.Post{}, models.Creator{}, apperr.Server("create post", err)
	}

	logg.Info("feed", "Post created successfully by user_id="+userID)
	s.events.Publish(models.PostEvent{Action: models.ActionCreate, Post: &post})
	return post, creator, nil
}

// Get returns a single post. Any authenticated caller may read any post.
func (s *Service) Get(ctx context.Context, postID string) (models.Post, error) {
	post, err := s.load(ctx, postID)
	if err != nil {
		return models.Post{}, err
	}
	posts := []models.Post{post}
	if err := s.resolveCreators(ctx, posts); err != nil {
		return models.Post{}, err
	}
	return posts[0], nil
}

// Edit updates title, content and image of a post owned by userID. A
// replaced image file is removed once the post no longer references it.
func (s *Service) Edit(ctx context.Context, userID, postID string, in PostInput) (models.Post, error) {
	title, content, err := validate(in)
	if err != nil {
		return models.Post{}, err
	}
	image := in.NewImage
	if image == "" {
		image = strings.TrimSpace(in.Image)
	}
	if image == "" {
		return models.Post{}, apperr.Validation("No file picked.")
	}

	post, err := s.loadOwned(ctx, userID, postID)
	if err != nil {
		return models.Post{}, err
	}
	if in.NewImage == "" && image != post.ImageURL && !s.images.Exists(image) {
		return models.Post{}, apperr.Validation("Validation failed.",
			apperr.FieldError{Field: "image", Message: "Referenced image does not exist."})
	}

	oldImage := post.ImageURL
	post.Title = title
	post.Content = content
	post.ImageURL = image
	post.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
	if err := s.posts.UpdatePost(ctx, post); err != nil {
		return models.Post{}, apperr.Server("update post", err)
	}
	if oldImage != image {
		s.clearImage(oldImage)
	}

	posts := []models.Post{post}
	if err := s.resolveCreators(ctx, posts); err != nil {
		return models.Post{}, err
	}
	post = posts[0]

	logg.Info("feed", "Post updated by user_id="+userID)
	s.events.Publish(models.PostEvent{Action: models.ActionUpdate, Post: &post})
	return post, nil
}

// Delete removes a post owned by userID, unlinks it from the user and
// removes its image.
func (s *Service) Delete(ctx context.Context, userID, postID string) error {
	post, err := s.loadOwned(ctx, userID, postID)
	if err != nil {
		return err
	}
	if err := s.posts.DeletePost(ctx, post); err != nil {
		return apperr.Server("delete post", err)
	}
	s.clearImage(post.ImageURL)

	logg.Info("feed", "Post deleted by user_id="+userID)
	s.events.Publish(models.PostEvent{Action: models.ActionDelete, PostID: post.ID})
	return nil
}

func (s *Service) load(ctx context.Context, postID string) (models.Post, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Post{}, apperr.NotFound("Could not find post.")
	}
	if err != nil {
		return models.Post{}, apperr.Server("load post", err)
	}
	return post, nil
}

func (s *Service) loadOwned(ctx context.Context, userID, postID string) (models.Post, error) {
	post, err := s.load(ctx, postID)
	if err != nil {
		return models.Post{}, err
	}
	if !post.OwnedBy(userID) {
		logg.Info("feed", "Rejected change to post by non-owner user_id="+userID)
		return models.Post{}, apperr.Forbidden("Not authorized.")
	}
	return post, nil
}

// clearImage removes an image file; failures are logged and ignored.
func (s *Service) clearImage(path string) {
	if path == "" {
		return
	}
	if err := s.images.Remove(path); err != nil {
		logg.Warn("feed", "Failed to remove image", err)
	}
}

// resolveCreators fills in creator names, loading each user once.
func (s *Service) resolveCreators(ctx context.Context, posts []models.Post) error {
	names := make(map[string]string)
	for i := range posts {
		id := posts[i].Creator.ID
		name, ok := names[id]
		if !ok {
			user, err := s.users.GetUser(ctx, id)
			switch {
			case errors.Is(err, store.ErrNotFound):
				name = ""
			case err != nil:
				return apperr.Server("resolve creator", err)
			default:
				name = user.Name
			}
			names[id] = name
		}
		posts[i].Creator.Name = name
	}
	return nil
}

func validate(in PostInput) (string, string, error) {
	title := strings.TrimSpace(titlePolicy.Sanitize(in.Title))
	content := strings.TrimSpace(contentPolicy.Sanitize(in.Content))

	var fields []apperr.FieldError
	if utf8.RuneCountInString(title) < minTextLen {
		fields = append(fields, apperr.FieldError{Field: "title", Message: "Title must be at least 5 characters."})
	}
	if utf8.RuneCountInString(content) < minTextLen {
		fields = append(fields, apperr.FieldError{Field: "content", Message: "Content must be at least 5 characters."})
	}
	if len(fields) > 0 {
		return "", "", apperr.Validation("Validation failed, entered data is incorrect.", fields...)
	}
	return title, content, nil
}
