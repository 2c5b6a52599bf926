package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	config "example.com/socialfeed/internal/init"
	"example.com/socialfeed/internal/logger"
	"example.com/socialfeed/internal/models"
	"github.com/gocql/gocql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/cassandra"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var logg = logger.New()

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

// --- Interfaces ---

type SessionInterface interface {
	Query(stmt string, values ...interface{}) *gocql.Query
	NewBatch(batchType gocql.BatchType) *gocql.Batch
	ExecuteBatch(batch *gocql.Batch) error
	Close()
}

// UserStore persists credentials and profile data.
type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (string, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	UpdateUserStatus(ctx context.Context, userID, status string) error
}

// PostStore persists posts. Writes that touch a post and its owner's
// post list are applied together.
type PostStore interface {
	CreatePost(ctx context.Context, post models.Post) error
	GetPost(ctx context.Context, postID string) (models.Post, error)
	UpdatePost(ctx context.Context, post models.Post) error
	DeletePost(ctx context.Context, post models.Post) error
	CountPosts(ctx context.Context) (int, error)
	ListPosts(ctx context.Context, offset, limit int) ([]models.Post, error)
}

type StoreInterface interface {
	UserStore
	PostStore
	Close()
}

// --- Store Implementation ---

type Store struct {
	Session SessionInterface
}

// New initializes the Cassandra connection and applies schema migrations.
func New(cfg *config.Config) (StoreInterface, error) {
	if err := ensureKeyspace(cfg); err != nil {
		return nil, fmt.Errorf("failed to ensure keyspace: %w", err)
	}

	if err := runMigrations(cfg); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.CassandraKeyspace
	cluster.Consistency = gocql.Quorum

	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	logg.Info("store", "Connected to Cassandra keyspace (host anonymized)")
	return &Store{Session: sess}, nil
}

func newCluster(cfg *config.Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.CassandraHost)
	cluster.Timeout = cfg.CassandraTimeout
	cluster.ConnectTimeout = cfg.CassandraTimeout

	if cfg.CassandraUsername != "" && cfg.CassandraPassword != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.CassandraUsername,
			Password: cfg.CassandraPassword,
		}
	}

	if cfg.CassandraDC != "" {
		cluster.HostFilter = gocql.DataCentreHostFilter(cfg.CassandraDC)
	}
	return cluster
}

// --- Ensure keyspace exists before migrations ---

func ensureKeyspace(cfg *config.Config) error {
	cluster := newCluster(cfg)
	cluster.Keyspace = "system"
	sess, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to connect to Cassandra system keyspace: %w", err)
	}
	defer sess.Close()

	query := fmt.Sprintf(`
        CREATE KEYSPACE IF NOT EXISTS %s
        WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1};
    `, cfg.CassandraKeyspace)

	if err := sess.Query(query).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}

	logg.Info("store", "Ensured Cassandra keyspace exists (keyspace name anonymized)")
	return nil
}

// --- Migration runner ---

func runMigrations(cfg *config.Config) error {
	sourceURL := fmt.Sprintf("file://%s", cfg.MigrationsPath)
	dbURL := fmt.Sprintf(
		"cassandra://%s/%s?x-migrations-table=schema_migrations&x-multi-statement=true",
		cfg.CassandraHost, cfg.CassandraKeyspace,
	)
	if cfg.CassandraUsername != "" && cfg.CassandraPassword != "" {
		dbURL += fmt.Sprintf("&username=%s&password=%s",
			url.QueryEscape(cfg.CassandraUsername), url.QueryEscape(cfg.CassandraPassword))
	}

	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logg.Info("store", "No new migrations to apply")
	} else {
		logg.Info("store", "Migrations applied successfully")
	}
	return nil
}

// Close gracefully closes Cassandra session.
func (s *Store) Close() {
	if s.Session != nil {
		s.Session.Close()
		logg.Info("store", "Cassandra session closed")
	}
}
