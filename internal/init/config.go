package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DevMode  = "dev"
	ProdMode = "prod"
)

type Config struct {
	// App mode & server
	Mode        string
	ServerAddr  string
	TLSCertFile string
	TLSKeyFile  string

	// Auth
	JWTSecret       string
	TokenTTL        time.Duration
	BcryptCost      int
	LoginRatePerMin int
	LoginBurst      int

	// Feed
	PageSize       int
	ImageDir       string
	MaxUploadBytes int64

	// Kafka
	KafkaBroker    string
	KafkaTopic     string
	KafkaGroupID   string
	KafkaPartition int
	KafkaReadTO    time.Duration
	KafkaWriteTO   time.Duration
	NotifyBuffer   int
	RelayWorkers   int

	// Cassandra
	CassandraHost     string
	CassandraKeyspace string
	CassandraUsername string
	CassandraPassword string
	CassandraTimeout  time.Duration
	CassandraDC       string
	MigrationsPath    string
}

var cfg *Config

// Init loads the config using Viper and returns it
func Init() *Config {
	viper.SetDefault("MODE", ProdMode)
	viper.SetDefault("SERVER_ADDR", ":8080")

	viper.SetDefault("TOKEN_TTL", "1h")
	viper.SetDefault("BCRYPT_COST", 12)
	viper.SetDefault("LOGIN_RATE_PER_MIN", 30)
	viper.SetDefault("LOGIN_BURST", 10)

	viper.SetDefault("PAGE_SIZE", 2)
	viper.SetDefault("IMAGE_DIR", "images")
	viper.SetDefault("MAX_UPLOAD_BYTES", 10<<20)

	viper.SetDefault("KAFKA_BROKER", "localhost:29092")
	viper.SetDefault("KAFKA_TOPIC", "posts")
	viper.SetDefault("KAFKA_GROUP_ID", "socialfeed-relay")
	viper.SetDefault("KAFKA_PARTITION", 0)
	viper.SetDefault("KAFKA_READ_TIMEOUT", "10s")
	viper.SetDefault("KAFKA_WRITE_TIMEOUT", "10s")
	viper.SetDefault("NOTIFY_BUFFER", 256)
	viper.SetDefault("RELAY_WORKERS", 1)

	viper.SetDefault("CASSANDRA_HOST", "localhost")
	viper.SetDefault("CASSANDRA_KEYSPACE", "socialfeed")
	viper.SetDefault("CASSANDRA_TIMEOUT", "10s")
	viper.SetDefault("MIGRATIONS_PATH", "./migrations/cassandra")
	// Optional: TLS files, Cassandra username/password/DC can be empty

	// Load env variables
	viper.AutomaticEnv()

	// Optional config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	_ = viper.ReadInConfig() // ignore error if no file

	mode := strings.ToLower(viper.GetString("MODE"))
	secret := viper.GetString("JWT_SECRET")
	if secret == "" && mode == DevMode {
		secret = "dev-secret"
	}

	cfg = &Config{
		Mode:              mode,
		ServerAddr:        viper.GetString("SERVER_ADDR"),
		TLSCertFile:       viper.GetString("TLS_CERT_FILE"),
		TLSKeyFile:        viper.GetString("TLS_KEY_FILE"),
		JWTSecret:         secret,
		TokenTTL:          parseDuration(viper.GetString("TOKEN_TTL"), time.Hour),
		BcryptCost:        viper.GetInt("BCRYPT_COST"),
		LoginRatePerMin:   viper.GetInt("LOGIN_RATE_PER_MIN"),
		LoginBurst:        viper.GetInt("LOGIN_BURST"),
		PageSize:          viper.GetInt("PAGE_SIZE"),
		ImageDir:          viper.GetString("IMAGE_DIR"),
		MaxUploadBytes:    viper.GetInt64("MAX_UPLOAD_BYTES"),
		KafkaBroker:       viper.GetString("KAFKA_BROKER"),
		KafkaTopic:        viper.GetString("KAFKA_TOPIC"),
		KafkaGroupID:      viper.GetString("KAFKA_GROUP_ID"),
		KafkaPartition:    viper.GetInt("KAFKA_PARTITION"),
		KafkaReadTO:       parseDuration(viper.GetString("KAFKA_READ_TIMEOUT"), 10*time.Second),
		KafkaWriteTO:      parseDuration(viper.GetString("KAFKA_WRITE_TIMEOUT"), 10*time.Second),
		NotifyBuffer:      viper.GetInt("NOTIFY_BUFFER"),
		RelayWorkers:      viper.GetInt("RELAY_WORKERS"),
		CassandraHost:     viper.GetString("CASSANDRA_HOST"),
		CassandraKeyspace: viper.GetString("CASSANDRA_KEYSPACE"),
		CassandraUsername: viper.GetString("CASSANDRA_USERNAME"),
		CassandraPassword: viper.GetString("CASSANDRA_PASSWORD"),
		CassandraTimeout:  parseDuration(viper.GetString("CASSANDRA_TIMEOUT"), 10*time.Second),
		CassandraDC:       viper.GetString("CASSANDRA_DC"),
		MigrationsPath:    viper.GetString("MIGRATIONS_PATH"),
	}

	return cfg
}

// Validate reports settings the process cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set outside dev mode"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}
	return errors.Join(errs...)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// Get returns the loaded config instance
func Get() *Config {
	return cfg
}
