package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"example.com/socialfeed/internal/account"
	"example.com/socialfeed/internal/apperr"
	"example.com/socialfeed/internal/feed"
	"example.com/socialfeed/internal/middleware"
	"github.com/gorilla/mux"
)

// multipart parts beyond this stay on disk while parsing
const formMemory = 8 << 20

// --- HTTP Handlers ---

// signupHandler registers a user.
// Expects JSON body: {"email": "...", "name": "...", "password": "..."}
// Returns 201 with {"message": "...", "userId": "..."}
func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	var body account.SignupInput
	if err := decodeJSON(r, &body); err != nil {
		apperr.Write(w, "http/signup", err)
		return
	}

	userID, err := s.accounts.Signup(r.Context(), body)
	if err != nil {
		apperr.Write(w, "http/signup", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User created!",
		"userId":  userID,
	})
}

// loginHandler exchanges credentials for a token.
// Expects JSON body: {"email": "...", "password": "..."}
// Returns {"token": "...", "userId": "..."}
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apperr.Write(w, "http/login", err)
		return
	}

	res, err := s.accounts.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		apperr.Write(w, "http/login", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	status, err := s.accounts.Status(r.Context(), userID)
	if err != nil {
		apperr.Write(w, "http/status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// updateStatusHandler overwrites the caller's status.
// Expects JSON body: {"status": "..."}
func (s *Server) updateStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apperr.Write(w, "http/status", err)
		return
	}

	user, err := s.accounts.UpdateStatus(r.Context(), userID, body.Status)
	if err != nil {
		apperr.Write(w, "http/status", err)
		return
	}
	logg.Info("http/status", "Status updated for user_id="+userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "User updated.",
		"user":    user,
	})
}

// listPostsHandler returns one page of the feed.
// Query parameters: ?page=1
func (s *Server) listPostsHandler(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}

	res, err := s.feed.List(r.Context(), page)
	if err != nil {
		apperr.Write(w, "http/feed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Fetched posts successfully.",
		"posts":      res.Posts,
		"totalItems": res.TotalItems,
	})
}

// createPostHandler stores a post with its uploaded image.
// Expects multipart form: title, content, image (file)
// Returns 201 with {"message": "...", "post": {...}, "creator": {...}}
func (s *Server) createPostHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	in, err := s.readPostInput(w, r)
	if err != nil {
		apperr.Write(w, "http/post", err)
		return
	}

	post, creator, err := s.feed.Create(r.Context(), userID, in)
	if err != nil {
		s.discardUpload(in)
		apperr.Write(w, "http/post", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Post created successfully!",
		"post":    post,
		"creator": creator,
	})
}

func (s *Server) getPostHandler(w http.ResponseWriter, r *http.Request) {
	post, err := s.feed.Get(r.Context(), mux.Vars(r)["postID"])
	if err != nil {
		apperr.Write(w, "http/post", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Post fetched.",
		"post":    post,
	})
}

// updatePostHandler edits a post. The image is either a new upload or the
// stored path sent back in the "image" field.
func (s *Server) updatePostHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	in, err := s.readPostInput(w, r)
	if err != nil {
		apperr.Write(w, "http/post", err)
		return
	}

	post, err := s.feed.Edit(r.Context(), userID, mux.Vars(r)["postID"], in)
	if err != nil {
		s.discardUpload(in)
		apperr.Write(w, "http/post", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Post updated!",
		"post":    post,
	})
}

func (s *Server) deletePostHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := s.feed.Delete(r.Context(), userID, mux.Vars(r)["postID"]); err != nil {
		apperr.Write(w, "http/post", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Deleted post."})
}

// readPostInput accepts multipart forms with an optional "image" file, or a
// JSON body {"title", "content", "image"}. An uploaded file is stored before
// returning; the caller removes it if the operation then fails.
func (s *Server) readPostInput(w http.ResponseWriter, r *http.Request) (feed.PostInput, error) {
	ctype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ctype != "multipart/form-data" {
		var body struct {
			Title   string `json:"title"`
			Content string `json:"content"`
			Image   string `json:"image"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return feed.PostInput{}, err
		}
		return feed.PostInput{Title: body.Title, Content: body.Content, Image: body.Image}, nil
	}

	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+formMemory)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return feed.PostInput{}, apperr.Validation("Attached image is too large.")
		}
		return feed.PostInput{}, apperr.Validation("Invalid form data.")
	}
	defer r.MultipartForm.RemoveAll()

	in := feed.PostInput{
		Title:   r.FormValue("title"),
		Content: r.FormValue("content"),
		Image:   r.FormValue("image"),
	}
	if files := r.MultipartForm.File["image"]; len(files) > 0 {
		stored, err := s.images.Save(files[0])
		if err != nil {
			return feed.PostInput{}, err
		}
		in.NewImage = stored
	}
	return in, nil
}

func (s *Server) discardUpload(in feed.PostInput) {
	if in.NewImage == "" {
		return
	}
	if err := s.images.Remove(in.NewImage); err != nil {
		logg.Warn("http/post", "Failed to remove rejected upload", err)
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		logg.Info("http", "Request without user in context")
		apperr.Write(w, "http", apperr.Unauthenticated("Not authenticated."))
	}
	return userID, ok
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("Invalid request body.")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logg.Error("http", "Failed to encode response", err)
	}
}
