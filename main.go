// obs-sync keeps an Obsidian vault and Apple Reminders in bidirectional
// agreement at the level of individual tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

const (
	exitOK = 0
	// exitPartial signals a run that applied some operations but recorded
	// at least one per-operation failure.
	exitPartial = 1
	// exitConfig signals a configuration error or lock contention; the
	// run aborted before mutating anything.
	exitConfig = 2
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "obs-sync",
		Short:         "Sync Obsidian Markdown tasks with Apple Reminders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(vaultsCmd())
	rootCmd.AddCommand(dedupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
}
