package database

import (
	"fmt"
	"os"
	"time"

	"github.com/geodepot/geodepot/pkg/keyring"
)

const (
	// Keyring service name for database credentials
	DatabaseKeyringService = "geodepot-database"
	DatabasePasswordKey    = "postgres-password"
	ProductionUser         = "geodepot"
	DefaultDatabase        = "geodepot"
)

// GetProductionPassword retrieves the production database password from keyring.
// This is used by the server once the node has been initialized.
func GetProductionPassword() (string, error) {
	backend := os.Getenv("GEODEPOT_KEYRING_BACKEND")
	if backend == "" {
		backend = "auto"
	}

	keyringPath := os.Getenv("GEODEPOT_KEYRING_PATH")
	if keyringPath == "" {
		keyringPath = keyring.GetDefaultKeyringPath()
	}

	masterPassword := keyring.GetMasterPasswordFromEnv()
	km := keyring.NewKeyringManagerWithBackend(keyringPath, masterPassword, backend)

	password, err := km.Get(DatabaseKeyringService, DatabasePasswordKey)
	if err != nil {
		return "", fmt.Errorf("database password not found in keyring - has the node been initialized? Error: %w", err)
	}
	return password, nil
}

// StoreProductionPassword stores the production database password in the keyring.
func StoreProductionPassword(password string) error {
	backend := os.Getenv("GEODEPOT_KEYRING_BACKEND")
	if backend == "" {
		backend = "auto"
	}

	keyringPath := os.Getenv("GEODEPOT_KEYRING_PATH")
	if keyringPath == "" {
		keyringPath = keyring.GetDefaultKeyringPath()
	}

	masterPassword := keyring.GetMasterPasswordFromEnv()
	km := keyring.NewKeyringManagerWithBackend(keyringPath, masterPassword, backend)

	return km.Set(DatabaseKeyringService, DatabasePasswordKey, password)
}

// FromProductionConfig creates a PostgreSQL config using keyring credentials
func FromProductionConfig(databaseName string) (PostgreSQLConfig, error) {
	return FromProductionConfigWithUser(databaseName, "")
}

// FromProductionConfigWithUser creates a PostgreSQL config using keyring
// credentials with the specified user.
func FromProductionConfigWithUser(databaseName, databaseUser string) (PostgreSQLConfig, error) {
	password, err := GetProductionPassword()
	if err != nil {
		return PostgreSQLConfig{}, err
	}

	dbName := databaseName
	if dbName == "" {
		dbName = os.Getenv("GEODEPOT_DATABASE_NAME")
	}
	if dbName == "" {
		dbName = DefaultDatabase
	}

	user := databaseUser
	if user == "" {
		user = ProductionUser
	}

	host := os.Getenv("GEODEPOT_DATABASE_HOST")
	if host == "" {
		host = "localhost"
	}

	return PostgreSQLConfig{
		User:              user,
		Password:          password,
		Host:              host,
		Port:              5432,
		Database:          dbName,
		SSLMode:           "prefer",
		MaxConnections:    20,
		ConnectionTimeout: 30 * time.Second,
	}, nil
}
