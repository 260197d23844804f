package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/seamosgenios/credport/internal/httpapi"
	"github.com/seamosgenios/credport/internal/notifywatch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the portal HTTP server",
	Long: `Serve the credential portal: the verification endpoint, admin
operations, and a websocket stream that pushes new announcements from
the remote config document to connected browsers.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if logFile := conf.GetString("logFile"); logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		})
	}

	store, err := buildRemoteStore()
	if err != nil {
		return err
	}
	repo, err := buildRepository(store)
	if err != nil {
		return err
	}
	prefStore, err := buildPrefsStore()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A cold start with an unreachable remote still serves: state stays
	// empty until a reload succeeds.
	if err := repo.Load(ctx); err != nil {
		log.Printf("initial load failed, serving empty state: %v", err)
	}

	hub := httpapi.NewHub()
	watcher, err := notifywatch.New(store, hub, prefStore, notifywatch.Options{
		ConfigPath: conf.GetString("configPath"),
		Interval:   conf.GetDuration("pollInterval"),
		Logger:     log.Default(),
	})
	if err != nil {
		return err
	}
	go watcher.Run(ctx)

	server := httpapi.NewServer(repo, hub, httpapi.ServerConfig{
		AdminAccessCode: conf.GetString("adminAccessCode"),
		RateLimitMax:    conf.GetInt("rateLimitMax"),
		RateLimitWindow: conf.GetDuration("rateLimitWindow"),
	})

	addr := conf.GetString("addr")
	httpServer := &http.Server{Addr: addr, Handler: server}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("credport listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
