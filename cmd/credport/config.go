package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/seamosgenios/credport/internal/ghstore"
	"github.com/seamosgenios/credport/internal/prefs"
	"github.com/seamosgenios/credport/internal/roster"
)

var conf *viper.Viper

func init() {
	conf = viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("addr", ":8080")
	conf.SetDefault("owner", "")
	conf.SetDefault("repo", "")
	conf.SetDefault("branch", "main")
	conf.SetDefault("rosterPath", roster.DefaultRosterPath)
	conf.SetDefault("configPath", roster.DefaultConfigPath)
	conf.SetDefault("credential", "")
	conf.SetDefault("adminAccessCode", "")
	conf.SetDefault("pollInterval", 15*time.Second)
	conf.SetDefault("prefsDSN", "")
	conf.SetDefault("rateLimitMax", 0)
	conf.SetDefault("rateLimitWindow", time.Minute)
	conf.SetDefault("logFile", "")

	// load .env if it exists (ignore if it does not)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Fatalf("config: load .env: %v", err)
		}
	}
	conf.SetEnvPrefix("CREDPORT")
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	conf.AutomaticEnv()
}

func buildRemoteStore() (*ghstore.HTTPStore, error) {
	store, err := ghstore.NewHTTPStore(ghstore.Options{
		Owner:  conf.GetString("owner"),
		Repo:   conf.GetString("repo"),
		Branch: conf.GetString("branch"),
	})
	if err != nil {
		return nil, fmt.Errorf("remote store (set CREDPORT_OWNER and CREDPORT_REPO): %w", err)
	}
	return store, nil
}

func buildRepository(store ghstore.Store) (*roster.Repository, error) {
	return roster.NewRepository(store, roster.Options{
		RosterPath: conf.GetString("rosterPath"),
		ConfigPath: conf.GetString("configPath"),
		Logger:     log.Default(),
	})
}

func buildPrefsStore() (*prefs.Store, error) {
	backend, err := prefs.BuildBackendFromDSN(conf.GetString("prefsDSN"))
	if err != nil {
		return nil, err
	}
	if backend == nil {
		backend = prefs.NewInMemoryBackend()
	}
	return prefs.NewStore(backend), nil
}

// resolveCredential picks the write credential in precedence order: the
// --credential flag, the CREDPORT_CREDENTIAL environment, then the value
// remembered in the preferences store.
func resolveCredential(flagValue string, store *prefs.Store) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(conf.GetString("credential")); v != "" {
		return v
	}
	if store != nil {
		if v, err := store.Credential(); err == nil && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
