// Package images stores uploaded post images on an afero filesystem.
package images

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"example.com/socialfeed/internal/apperr"
	"example.com/socialfeed/internal/logger"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var logg = logger.New()

var ErrOutsideDir = errors.New("image path outside image directory")

var allowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpg":  true,
	"image/jpeg": true,
}

var allowedExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

type Store struct {
	fs       afero.Fs
	dir      string
	maxBytes int64
}

// New creates the image directory on fs if needed.
func New(fs afero.Fs, dir string, maxBytes int64) (*Store, error) {
	dir = path.Clean(filepath.ToSlash(dir))
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Store{fs: fs, dir: dir, maxBytes: maxBytes}, nil
}

// Dir is the slash-separated directory that saved image paths start with.
func (s *Store) Dir() string { return s.dir }

// Save writes the uploaded file and returns its stored path, e.g.
// "images/4f0c...-cat.png". Only png and jpeg files are accepted.
func (s *Store) Save(fh *multipart.FileHeader) (string, error) {
	if fh == nil {
		return "", apperr.Validation("No image provided.")
	}
	name := path.Base(filepath.ToSlash(fh.Filename))
	ext := strings.ToLower(path.Ext(name))
	ctype := strings.ToLower(fh.Header.Get("Content-Type"))
	typeOK := allowedTypes[ctype] || ctype == "" || ctype == "application/octet-stream"
	if !typeOK || !allowedExts[ext] {
		return "", apperr.Validation("Attached file is not an image.",
			apperr.FieldError{Field: "image", Message: "only png, jpg and jpeg files are accepted"})
	}
	if s.maxBytes > 0 && fh.Size > s.maxBytes {
		return "", apperr.Validation("Attached image is too large.",
			apperr.FieldError{Field: "image", Message: fmt.Sprintf("must be at most %d bytes", s.maxBytes)})
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	stored := path.Join(s.dir, uuid.NewString()+"-"+sanitizeName(name))
	dst, err := s.fs.Create(stored)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = s.fs.Remove(stored)
		return "", fmt.Errorf("write image file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = s.fs.Remove(stored)
		return "", fmt.Errorf("close image file: %w", err)
	}

	logg.Info("images", "Stored uploaded image "+stored)
	return stored, nil
}

// Remove deletes a previously saved image. Paths that do not resolve inside
// the image directory are refused.
func (s *Store) Remove(p string) error {
	clean, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(clean); err != nil {
		return fmt.Errorf("remove image: %w", err)
	}
	logg.Info("images", "Removed image "+clean)
	return nil
}

// Exists reports whether p is a stored image.
func (s *Store) Exists(p string) bool {
	clean, err := s.resolve(p)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(s.fs, clean)
	return err == nil && ok
}

// Handler serves stored images read-only under the "/images/" URL prefix.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix("/images/", http.FileServer(afero.NewHttpFs(s.fs).Dir(s.dir)))
}

func (s *Store) resolve(p string) (string, error) {
	clean := path.Clean(filepath.ToSlash(p))
	if !strings.HasPrefix(clean, s.dir+"/") {
		return "", fmt.Errorf("%w: %q", ErrOutsideDir, p)
	}
	return clean, nil
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
