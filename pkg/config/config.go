package config

import (
	"os"
	"strings"
	"sync"
)

// EnvPrefix is the prefix for environment variables that seed the
// configuration (e.g. GEODEPOT_DATABASE_HOST -> database.host).
const EnvPrefix = "GEODEPOT_"

// Config manages service configuration
type Config struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates a new configuration manager
func New() *Config {
	return &Config{
		values: make(map[string]string),
	}
}

// FromEnv creates a configuration manager seeded from GEODEPOT_* environment
// variables. Underscores in the variable name map to dots in the key.
func FromEnv() *Config {
	cfg := New()
	values := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		key = strings.ReplaceAll(key, "_", ".")
		values[key] = value
	}
	cfg.Update(values)
	return cfg
}

// Get retrieves a configuration value
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetOrDefault retrieves a configuration value, falling back to def when unset.
func (c *Config) GetOrDefault(key, def string) string {
	if v := c.Get(key); v != "" {
		return v
	}
	return def
}

// GetAll returns a copy of all configuration values
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copy := make(map[string]string)
	for k, v := range c.values {
		copy[k] = v
	}
	return copy
}

// Update updates configuration values
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
	}
}
