package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seamosgenios/credport/internal/prefs"
	"github.com/seamosgenios/credport/internal/roster"
)

// loadedRepo builds the remote store and repository and performs the initial
// fetch. CLI commands operate on a freshly loaded snapshot.
func loadedRepo(ctx context.Context) (*roster.Repository, *prefs.Store, error) {
	store, err := buildRemoteStore()
	if err != nil {
		return nil, nil, err
	}
	repo, err := buildRepository(store)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load remote documents: %w", err)
	}
	prefStore, err := buildPrefsStore()
	if err != nil {
		return nil, nil, err
	}
	return repo, prefStore, nil
}

func commitChanges(ctx context.Context, repo *roster.Repository, prefStore *prefs.Store, credentialFlag string) error {
	credential := resolveCredential(credentialFlag, prefStore)
	result, err := repo.Commit(ctx, credential)
	if err != nil {
		if result.Partial() {
			return fmt.Errorf("partial write, retry to finish: %w", err)
		}
		return err
	}
	if credentialFlag != "" && prefStore != nil {
		// Remember an explicitly supplied credential for later commands.
		_ = prefStore.SetCredential(credential)
	}
	return nil
}

var verifyCmd = &cobra.Command{
	Use:   "verify <document-number>",
	Short: "Look up a credential by document number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Typing the admin access code switches modes instead of searching.
		if code := conf.GetString("adminAccessCode"); code != "" && args[0] == code {
			fmt.Println("admin access granted")
			return nil
		}
		repo, _, err := loadedRepo(cmd.Context())
		if err != nil {
			return err
		}
		record, ok := repo.FindByIdentity(args[0])
		if !ok {
			return fmt.Errorf("no credential matches %q", args[0])
		}
		if record.Status == roster.StatusRevoked {
			return fmt.Errorf("credential %s %s is revoked", record.DocumentType, record.ID)
		}
		fmt.Printf("%s\n%s %s\nPlan: %s\nPayment: %s\n", record.FullName, record.DocumentType, record.ID, record.Plan, record.PaymentDate)
		for subject, url := range repo.Config().SubjectLinks {
			fmt.Printf("  %s: %s\n", subject, url)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List roster records, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		term, _ := cmd.Flags().GetString("term")
		plan, _ := cmd.Flags().GetString("plan")
		status, _ := cmd.Flags().GetString("status")

		repo, _, err := loadedRepo(cmd.Context())
		if err != nil {
			return err
		}
		records := repo.Search(roster.Query{Term: term, Plan: plan, Status: roster.Status(status)})
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DOCUMENT\tNAME\tPLAN\tSTATUS\tPAYMENT")
		for _, r := range records {
			fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\t%s\n", r.DocumentType, r.ID, r.FullName, r.Plan, r.Status, r.PaymentDate)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		stats := repo.Stats()
		fmt.Printf("\n%d records, %d active\n", stats.Total, stats.Active)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update a roster record and push it to the remote store",
	Long: `Create a record, or update the existing one whose document number
normalizes to the same identity. The write is conditional on the remote
revision observed at load time; if another administrator pushed in
between, the command fails with a conflict and nothing is overwritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		record := roster.StudentRecord{}
		record.ID, _ = flags.GetString("id")
		record.FullName, _ = flags.GetString("name")
		docType, _ := flags.GetString("doc-type")
		record.DocumentType = roster.DocumentType(docType)
		record.Email, _ = flags.GetString("email")
		record.Plan, _ = flags.GetString("plan")
		status, _ := flags.GetString("status")
		record.Status = roster.Status(status)
		record.PaymentDate, _ = flags.GetString("payment-date")
		record.FolderURL, _ = flags.GetString("folder-url")
		credential, _ := flags.GetString("credential")

		repo, prefStore, err := loadedRepo(cmd.Context())
		if err != nil {
			return err
		}
		if existing, ok := repo.FindByIdentity(record.ID); ok {
			record.Key = existing.Key
		}
		saved, err := repo.CreateOrUpdate(record)
		if err != nil {
			return err
		}
		if err := commitChanges(cmd.Context(), repo, prefStore, credential); err != nil {
			return err
		}
		fmt.Printf("saved %s (%s %s)\n", saved.FullName, saved.DocumentType, saved.ID)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <document-number>",
	Short: "Delete a roster record and push the change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		credential, _ := cmd.Flags().GetString("credential")

		repo, prefStore, err := loadedRepo(cmd.Context())
		if err != nil {
			return err
		}
		record, ok := repo.FindByIdentity(args[0])
		if !ok {
			return fmt.Errorf("no credential matches %q", args[0])
		}
		if !repo.Delete(record.Key) {
			return fmt.Errorf("record vanished during delete")
		}
		if err := commitChanges(cmd.Context(), repo, prefStore, credential); err != nil {
			return err
		}
		fmt.Printf("removed %s (%s %s)\n", record.FullName, record.DocumentType, record.ID)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a formatted roster snapshot to a file or stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		repo, _, err := loadedRepo(cmd.Context())
		if err != nil {
			return err
		}
		snapshot, err := repo.ExportSnapshot()
		if err != nil {
			return err
		}
		if output == "" || output == "-" {
			_, err = os.Stdout.Write(append(snapshot, '\n'))
			return err
		}
		return os.WriteFile(output, snapshot, 0o644)
	},
}

func init() {
	listCmd.Flags().String("term", "", "match document substring or name substring")
	listCmd.Flags().String("plan", "", "filter by plan")
	listCmd.Flags().String("status", "", "filter by status (Active or Revoked)")

	addCmd.Flags().String("id", "", "document number (required)")
	addCmd.Flags().String("name", "", "full name (required)")
	addCmd.Flags().String("doc-type", "", "document type (T.I. or C.C.)")
	addCmd.Flags().String("email", "", "contact email")
	addCmd.Flags().String("plan", "", "plan name")
	addCmd.Flags().String("status", "", "Active or Revoked")
	addCmd.Flags().String("payment-date", "", "last payment date")
	addCmd.Flags().String("folder-url", "", "student folder URL")
	addCmd.Flags().String("credential", "", "write credential (overrides CREDPORT_CREDENTIAL)")
	_ = addCmd.MarkFlagRequired("id")
	_ = addCmd.MarkFlagRequired("name")

	removeCmd.Flags().String("credential", "", "write credential (overrides CREDPORT_CREDENTIAL)")

	exportCmd.Flags().StringP("output", "o", "", "output file, - for stdout")

	rootCmd.AddCommand(verifyCmd, listCmd, addCmd, removeCmd, exportCmd)
}
