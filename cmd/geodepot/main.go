package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/geodepot/geodepot/internal/auth"
	"github.com/geodepot/geodepot/internal/engine"
	"github.com/geodepot/geodepot/internal/schema"
	"github.com/geodepot/geodepot/pkg/config"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

var version = "dev"

var (
	errMissingSigningKey        = errors.New("GEODEPOT_AUTH_SIGNING_KEY must be set")
	errMissingBootstrapPassword = errors.New("GEODEPOT_AUTH_BOOTSTRAP_PASSWORD must be set when bootstrapping an admin account")
	errMissingDatabasePassword  = errors.New("GEODEPOT_DATABASE_PASSWORD must be set when storing the database password")
)

func main() {
	var (
		listenAddr      = flag.String("listen", "", "HTTP listen address (overrides GEODEPOT_HTTP_LISTEN_ADDRESS)")
		withCache       = flag.Bool("cache", false, "enable the redis change stamp cache")
		bootstrapEmail  = flag.String("bootstrap-email", "", "create an admin account with this email on startup")
		bootstrapName   = flag.String("bootstrap-name", "admin", "name for the bootstrap admin account")
		storeDBPassword = flag.Bool("store-db-password", false, "store GEODEPOT_DATABASE_PASSWORD in the keyring and exit")
	)
	flag.Parse()

	log := logger.New("geodepot", version)
	cfg := config.FromEnv()
	if *listenAddr != "" {
		cfg.Update(map[string]string{"http.listen.address": *listenAddr})
	}

	if *storeDBPassword {
		if err := storeDatabasePassword(cfg, log); err != nil {
			log.Fatalf("geodepot exited: %v", err)
		}
		return
	}

	if err := run(cfg, log, *withCache, *bootstrapEmail, *bootstrapName); err != nil {
		log.Fatalf("geodepot exited: %v", err)
	}
}

// storeDatabasePassword seeds the keyring so later runs can connect without
// the password in the environment.
func storeDatabasePassword(cfg *config.Config, log *logger.Logger) error {
	password := cfg.Get("database.password")
	if password == "" {
		return errMissingDatabasePassword
	}
	if err := database.StoreProductionPassword(password); err != nil {
		return err
	}
	log.Info("Database password stored in keyring")
	return nil
}

func run(cfg *config.Config, log *logger.Logger, withCache bool, bootstrapEmail, bootstrapName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	all := cfg.GetAll()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// Keys only; values may hold credentials.
	log.Debugf("Loaded %d configuration keys: %s", len(keys), strings.Join(keys, ", "))

	db, err := database.New(ctx, database.FromGlobalConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := schema.Apply(ctx, db, log); err != nil {
		return err
	}

	var cache *database.Redis
	if withCache {
		cache, err = database.NewRedis(ctx, database.RedisFromGlobalConfig(cfg))
		if err != nil {
			// The cache is an optimization; run without it.
			log.Warnf("Redis unavailable, change stamp caching disabled: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	signingKey := cfg.Get("auth.signing.key")
	if signingKey == "" {
		return errMissingSigningKey
	}
	authCfg := auth.Config{
		SigningKey: []byte(signingKey),
		Issuer:     "geodepot",
	}
	if ttl := cfg.Get("auth.session.ttl"); ttl != "" {
		parsed, err := time.ParseDuration(ttl)
		if err != nil {
			return err
		}
		authCfg.SessionTTL = parsed
	}

	e := engine.NewEngine(cfg, db, cache, authCfg, log)

	if bootstrapEmail != "" {
		password := cfg.Get("auth.bootstrap.password")
		if password == "" {
			return errMissingBootstrapPassword
		}
		if _, err := e.Bootstrap(ctx, bootstrapName, bootstrapEmail, password); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Stop(shutdownCtx)
}
