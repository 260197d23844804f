package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "credport",
	Short: "Student credential portal backed by a versioned document store",
	Long: `credport manages a student roster and academic configuration stored as
JSON documents in a GitHub repository, using conditional writes against
blob revisions so concurrent administrators never silently overwrite
each other.

Configuration comes from CREDPORT_* environment variables (a local .env
file is loaded if present): CREDPORT_OWNER and CREDPORT_REPO name the
backing repository, CREDPORT_CREDENTIAL supplies the write token.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
