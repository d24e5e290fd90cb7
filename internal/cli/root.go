package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Colors for the startup banner
	headingColor = color.New(color.FgCyan, color.Bold)
	addrColor    = color.New(color.FgGreen)
)

// rootCmd is the root command for coedit.
var rootCmd = &cobra.Command{
	Use:     "coedit",
	Version: "dev",
	Short:   "Collaborative code editor server",
	Long: `coedit serves a project directory to collaborative editor clients.

Every connected editor sees the same file tree and document state; edits,
searches, and console output are synchronized live over WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the coedit version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(os.Stdout, rootCmd.Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	completionCmd := &cobra.Command{
		Use:   "completion",
		Short: "Generate the autocompletion script for the specified shell",
	}
	completionCmd.AddCommand(&cobra.Command{
		Use:                   "bash",
		Short:                 "Generate the autocompletion script for bash",
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenBashCompletion(os.Stdout)
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:                   "zsh",
		Short:                 "Generate the autocompletion script for zsh",
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.GenZshCompletion(os.Stdout)
		},
	})
	rootCmd.AddCommand(completionCmd)
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}
