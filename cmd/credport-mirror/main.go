// Command credport-mirror keeps a local directory in sync with the portal's
// remote documents so administrators can edit the roster and config with
// ordinary tools. Local edits push as conditional writes; conflicted files
// stay local until resolved.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/seamosgenios/credport/internal/ghstore"
	"github.com/seamosgenios/credport/internal/mirror"
	"github.com/seamosgenios/credport/internal/roster"
)

func main() {
	owner := flag.String("owner", strings.TrimSpace(os.Getenv("CREDPORT_OWNER")), "repository owner")
	repo := flag.String("repo", strings.TrimSpace(os.Getenv("CREDPORT_REPO")), "repository name")
	branch := flag.String("branch", envOrDefault("CREDPORT_BRANCH", "main"), "repository branch")
	credential := flag.String("credential", strings.TrimSpace(os.Getenv("CREDPORT_CREDENTIAL")), "write credential")
	rosterPath := flag.String("roster-path", envOrDefault("CREDPORT_ROSTERPATH", roster.DefaultRosterPath), "remote roster document path")
	configPath := flag.String("config-path", envOrDefault("CREDPORT_CONFIGPATH", roster.DefaultConfigPath), "remote config document path")
	localDir := flag.String("local-dir", strings.TrimSpace(os.Getenv("CREDPORT_LOCAL_DIR")), "local mirror directory")
	stateFile := flag.String("state-file", strings.TrimSpace(os.Getenv("CREDPORT_MIRROR_STATE_FILE")), "state file path")
	interval := flag.Duration("interval", durationEnv("CREDPORT_MIRROR_INTERVAL", 30*time.Second), "sync interval")
	timeout := flag.Duration("timeout", durationEnv("CREDPORT_MIRROR_TIMEOUT", 15*time.Second), "per-sync timeout")
	once := flag.Bool("once", false, "run one sync cycle and exit")
	flag.Parse()

	if strings.TrimSpace(*owner) == "" {
		log.Fatalf("owner is required (--owner or CREDPORT_OWNER)")
	}
	if strings.TrimSpace(*repo) == "" {
		log.Fatalf("repo is required (--repo or CREDPORT_REPO)")
	}
	if strings.TrimSpace(*localDir) == "" {
		log.Fatalf("local-dir is required (--local-dir or CREDPORT_LOCAL_DIR)")
	}
	if *interval <= 0 {
		*interval = 30 * time.Second
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}

	store, err := ghstore.NewHTTPStore(ghstore.Options{
		Owner:  strings.TrimSpace(*owner),
		Repo:   strings.TrimSpace(*repo),
		Branch: strings.TrimSpace(*branch),
	})
	if err != nil {
		log.Fatalf("failed to initialize remote store: %v", err)
	}
	m, err := mirror.New(store, mirror.Options{
		LocalDir:   *localDir,
		RosterPath: *rosterPath,
		ConfigPath: *configPath,
		StateFile:  *stateFile,
		Credential: strings.TrimSpace(*credential),
		Logger:     log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize mirror: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := m.SyncOnce(ctx); err != nil {
			log.Fatalf("sync cycle failed: %v", err)
		}
		for _, path := range m.Dirty() {
			log.Printf("unresolved local change: %s", path)
		}
		return
	}

	if err := m.Watch(rootCtx, *interval); err != nil && rootCtx.Err() == nil {
		log.Fatalf("mirror watch failed: %v", err)
	}
	log.Printf("mirror stopping")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
