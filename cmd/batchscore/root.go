package main

import (
	"fmt"

	"github.com/spf13/cobra"

	batchscore "github.com/JohnPlummer/batch-score"
)

func newRootCmd() *cobra.Command {
	info := batchscore.GetVersion()

	root := &cobra.Command{
		Use:           "batchscore",
		Short:         "Score batches of payloads against a remote endpoint",
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newRunCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", info.Name, info.Version)
		},
	})

	return root
}
