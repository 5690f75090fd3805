// Package commands implements the xv6fs CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xv6fs/xv6fs/internal/logger"
	"github.com/xv6fs/xv6fs/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// cfgFile is the global --config flag.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "xv6fs",
	Short: "xv6fs - a teaching kernel storage stack",
	Long: `xv6fs implements a buffer cache, write-ahead log, inode layer, and
directory/path resolver over a single block device image, in the style
of a small teaching operating system's filesystem.

Use "xv6fs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return logger.Init(logger.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
	},
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/xv6fs/config.yaml)")

	rootCmd.AddCommand(mkfsCmd)
	rootCmd.AddCommand(fsckCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("xv6fs %s (commit: %s, built: %s)\n", Version, Commit, Date)
		return nil
	},
}
