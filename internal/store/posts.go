package store

import (
	"context"
	"errors"

	"example.com/socialfeed/internal/models"
	"github.com/gocql/gocql"
)

// single timeline partition, newest first by clustering order
const allPostsBucket = "all"

// --- Post operations ---

// CreatePost stores the post, indexes it on the timeline and appends its id
// to the creator's post list in one logged batch.
func (s *Store) CreatePost(ctx context.Context, post models.Post) error {
	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
		INSERT INTO posts (post_id, title, content, image_url, creator_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Title, post.Content, post.ImageURL, post.Creator.ID, post.CreatedAt, post.UpdatedAt)
	batch.Query(`INSERT INTO posts_by_time (bucket, created_at, post_id) VALUES (?, ?, ?)`,
		allPostsBucket, post.CreatedAt, post.ID)
	batch.Query(`UPDATE users SET post_ids = post_ids + ? WHERE user_id = ?`,
		[]string{post.ID}, post.Creator.ID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to add post", err)
		return err
	}

	logg.Info("store", "Post added to posts table (post content anonymized)")
	return nil
}

// GetPost returns the post with the given id or ErrNotFound. Only the
// creator id is filled in; resolving the name is up to the caller.
func (s *Store) GetPost(ctx context.Context, postID string) (models.Post, error) {
	var p models.Post
	err := s.Session.Query(`
		SELECT post_id, title, content, image_url, creator_id, created_at, updated_at
		FROM posts WHERE post_id = ?`,
		postID,
	).WithContext(ctx).Scan(&p.ID, &p.Title, &p.Content, &p.ImageURL, &p.Creator.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.Post{}, ErrNotFound
		}
		logg.Error("store", "Failed to query post", err)
		return models.Post{}, err
	}
	return p, nil
}

// UpdatePost overwrites the mutable fields. The creator is never rewritten.
func (s *Store) UpdatePost(ctx context.Context, post models.Post) error {
	if err := s.Session.Query(`
		UPDATE posts SET title = ?, content = ?, image_url = ?, updated_at = ?
		WHERE post_id = ?`,
		post.Title, post.Content, post.ImageURL, post.UpdatedAt, post.ID,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to update post", err)
		return err
	}
	return nil
}

// DeletePost removes the post, its timeline entry and the reference in the
// creator's post list in one logged batch.
func (s *Store) DeletePost(ctx context.Context, post models.Post) error {
	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM posts WHERE post_id = ?`, post.ID)
	batch.Query(`DELETE FROM posts_by_time WHERE bucket = ? AND created_at = ? AND post_id = ?`,
		allPostsBucket, post.CreatedAt, post.ID)
	batch.Query(`UPDATE users SET post_ids = post_ids - ? WHERE user_id = ?`,
		[]string{post.ID}, post.Creator.ID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to delete post", err)
		return err
	}

	logg.Info("store", "Post deleted and unlinked from creator (IDs anonymized)")
	return nil
}

func (s *Store) CountPosts(ctx context.Context) (int, error) {
	var n int64
	if err := s.Session.Query(
		`SELECT COUNT(*) FROM posts_by_time WHERE bucket = ?`,
		allPostsBucket,
	).WithContext(ctx).Scan(&n); err != nil {
		logg.Error("store", "Failed to count posts", err)
		return 0, err
	}
	return int(n), nil
}

// ListPosts returns up to limit posts, newest first, skipping offset posts.
func (s *Store) ListPosts(ctx context.Context, offset, limit int) ([]models.Post, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []models.Post{}, nil
	}

	iter := s.Session.Query(
		`SELECT post_id FROM posts_by_time WHERE bucket = ? LIMIT ?`,
		allPostsBucket, offset+limit,
	).WithContext(ctx).Iter()

	var ids []string
	var id string
	skipped := 0
	for iter.Scan(&id) {
		if skipped < offset {
			skipped++
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to read post timeline", err)
		return nil, err
	}

	res := make([]models.Post, 0, len(ids))
	for _, pid := range ids {
		p, err := s.GetPost(ctx, pid)
		if errors.Is(err, ErrNotFound) {
			// timeline entry outlived its post
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}
