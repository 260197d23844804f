package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seamosgenios/credport/internal/notifywatch"
)

var setLinkCmd = &cobra.Command{
	Use:   "set-link <subject> <url>",
	Short: "Update one subject link in the academic config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		credential, _ := cmd.Flags().GetString("credential")

		repo, prefStore, err := loadedRepo(cmd.Context())
		if err != nil {
			return err
		}
		repo.SetSubjectLink(args[0], args[1])
		if err := commitChanges(cmd.Context(), repo, prefStore, credential); err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", args[0], args[1])
		return nil
	},
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <message>",
	Short: "Publish an announcement to every connected portal",
	Long: `Set the system message and bump the notification id in the academic
config document. Portals polling the document notify their users once
per new id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		credential, _ := cmd.Flags().GetString("credential")

		repo, prefStore, err := loadedRepo(cmd.Context())
		if err != nil {
			return err
		}
		id := repo.Broadcast(args[0])
		if err := commitChanges(cmd.Context(), repo, prefStore, credential); err != nil {
			return err
		}
		fmt.Printf("announcement %d published\n", id)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the remote config and print new announcements",
	Long: `Watch the academic config document for announcement id changes and
print each new announcement to stdout. The last notified id persists in
the preferences store, so restarting does not repeat old announcements.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildRemoteStore()
		if err != nil {
			return err
		}
		prefStore, err := buildPrefsStore()
		if err != nil {
			return err
		}
		notifier := notifywatch.NotifierFunc(func(title, body string) {
			fmt.Printf("%s: %s\n", title, body)
		})
		watcher, err := notifywatch.New(store, notifier, prefStore, notifywatch.Options{
			ConfigPath: conf.GetString("configPath"),
			Interval:   conf.GetDuration("pollInterval"),
			Logger:     log.Default(),
		})
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		watcher.Run(ctx)
		return nil
	},
}

func init() {
	setLinkCmd.Flags().String("credential", "", "write credential (overrides CREDPORT_CREDENTIAL)")
	broadcastCmd.Flags().String("credential", "", "write credential (overrides CREDPORT_CREDENTIAL)")

	rootCmd.AddCommand(setLinkCmd, broadcastCmd, watchCmd)
}
