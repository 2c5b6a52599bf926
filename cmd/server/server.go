package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"example.com/socialfeed/internal/account"
	"example.com/socialfeed/internal/apperr"
	"example.com/socialfeed/internal/feed"
	"example.com/socialfeed/internal/images"
	"example.com/socialfeed/internal/logger"
	"example.com/socialfeed/internal/middleware"
	"github.com/gorilla/mux"
)

var logg = logger.New()

// Server holds the flows behind the HTTP API.
type Server struct {
	accounts  *account.Service
	feed      *feed.Service
	images    *images.Store
	hub       http.Handler
	tokens    middleware.TokenVerifier
	limiter   *middleware.RateLimiter
	maxUpload int64
}

type Deps struct {
	Accounts  *account.Service
	Feed      *feed.Service
	Images    *images.Store
	Hub       http.Handler
	Tokens    middleware.TokenVerifier
	Limiter   *middleware.RateLimiter
	MaxUpload int64
}

func New(d Deps) *Server {
	return &Server{
		accounts:  d.Accounts,
		feed:      d.Feed,
		images:    d.Images,
		hub:       d.Hub,
		tokens:    d.Tokens,
		limiter:   d.Limiter,
		maxUpload: d.MaxUpload,
	}
}

// Routes builds the router. Account routes are served under /auth and, for
// older clients, at the root.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apperr.Write(w, "http", apperr.NotFound("Not found."))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "Method not allowed."})
	})

	s.mountAccount(r.PathPrefix("/auth").Subrouter())
	s.mountAccount(r)

	feedRouter := r.PathPrefix("/feed").Subrouter()
	feedRouter.Use(middleware.JWTAuth(s.tokens))
	feedRouter.HandleFunc("/posts", s.listPostsHandler).Methods(http.MethodGet)
	feedRouter.HandleFunc("/post", s.createPostHandler).Methods(http.MethodPost)
	feedRouter.HandleFunc("/post/{postID}", s.getPostHandler).Methods(http.MethodGet)
	feedRouter.HandleFunc("/post/{postID}", s.updatePostHandler).Methods(http.MethodPut)
	feedRouter.HandleFunc("/post/{postID}", s.deletePostHandler).Methods(http.MethodDelete)

	r.PathPrefix("/images/").Handler(s.images.Handler()).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/socket", s.hub)

	return r
}

func (s *Server) mountAccount(r *mux.Router) {
	gate := middleware.JWTAuth(s.tokens)
	throttle := func(h http.HandlerFunc) http.Handler {
		if s.limiter == nil {
			return h
		}
		return s.limiter.Middleware(h)
	}

	r.Handle("/signup", throttle(s.signupHandler)).Methods(http.MethodPost, http.MethodPut)
	r.Handle("/login", throttle(s.loginHandler)).Methods(http.MethodPost)
	r.Handle("/status", gate(http.HandlerFunc(s.getStatusHandler))).Methods(http.MethodGet)
	r.Handle("/status", gate(http.HandlerFunc(s.updateStatusHandler))).Methods(http.MethodPut, http.MethodPatch)
}

// Run listens on addr and serves handler until ctx is cancelled. TLS is used
// when both certFile and keyFile are set.
func Run(ctx context.Context, handler http.Handler, addr, certFile, keyFile string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, handler, certFile, keyFile)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, certFile, keyFile string) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second, // prevent slowloris attacks
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// --- Start server in a goroutine ---
	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			logg.Info("server", "Starting HTTPS server on "+ln.Addr().String())
			err = srv.ServeTLS(ln, certFile, keyFile)
		} else {
			logg.Info("server", "Starting HTTP server on "+ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// --- Graceful shutdown ---
	select {
	case err := <-errCh:
		logg.Error("server", "Server stopped unexpectedly", err)
		return err
	case <-ctx.Done():
	}
	logg.Info("server", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
		return err
	}
	logg.Info("server", "Server stopped gracefully")
	return nil
}
