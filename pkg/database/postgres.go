package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geodepot/geodepot/pkg/config"
)

// PostgreSQL represents a PostgreSQL database connection
type PostgreSQL struct {
	pool *pgxpool.Pool
}

type PostgreSQLConfig struct {
	User              string
	Password          string
	Host              string
	Port              int
	Database          string
	SSLMode           string
	MaxConnections    int32
	ConnectionTimeout time.Duration
}

// New creates a new PostgreSQL instance
func New(ctx context.Context, cfg PostgreSQLConfig) (*PostgreSQL, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required - must be provided in config or GEODEPOT_DATABASE_NAME environment variable")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}

	// Use pgxpool.ParseConfig to handle special characters in passwords
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to create connection config: %w", err)
	}

	// Set connection parameters individually to avoid URL parsing issues
	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	// Set SSL mode through TLS config
	switch cfg.SSLMode {
	case "disable":
		poolConfig.ConnConfig.TLSConfig = nil
	case "require", "prefer":
		// pgx will handle the TLS negotiation automatically
	default:
		// For other SSL modes, use default behavior
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

// FromGlobalConfig creates a PostgreSQL config from the global configuration.
// If the node has been initialized, it will use keyring credentials.
func FromGlobalConfig(cfg *config.Config) PostgreSQLConfig {
	var databaseName string
	if cfg != nil {
		databaseName = cfg.Get("database.name")
	}
	if prodConfig, err := FromProductionConfig(databaseName); err == nil {
		return prodConfig
	}

	dbName := databaseName
	if dbName == "" {
		dbName = os.Getenv("GEODEPOT_DATABASE_NAME")
	}
	if dbName == "" {
		dbName = DefaultDatabase
	}

	host := "localhost"
	port := 5432
	user := os.Getenv("GEODEPOT_DATABASE_USER")
	password := os.Getenv("GEODEPOT_DATABASE_PASSWORD")
	if cfg != nil {
		if h := cfg.Get("database.host"); h != "" {
			host = h
		}
		if u := cfg.Get("database.user"); u != "" {
			user = u
		}
		if p := cfg.Get("database.password"); p != "" {
			password = p
		}
	}
	if user == "" {
		user = "postgres"
	}

	return PostgreSQLConfig{
		User:              user,
		Password:          password,
		Host:              host,
		Port:              port,
		Database:          dbName,
		SSLMode:           "prefer",
		MaxConnections:    20,
		ConnectionTimeout: 30 * time.Second,
	}
}

// Pool returns the underlying connection pool
func (p *PostgreSQL) Pool() *pgxpool.Pool {
	return p.pool
}

// Close closes the connection pool
func (p *PostgreSQL) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ping verifies the database connection is alive
func (p *PostgreSQL) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
