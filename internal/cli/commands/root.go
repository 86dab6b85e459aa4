package commands

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/modinspect/modinspect/internal/cli/config"
	"github.com/modinspect/modinspect/internal/cli/ui"
	"github.com/spf13/cobra"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modinspect",
		Short: "Inspect the installed packages of a JavaScript project",
		Long: color.CyanString(`modinspect - node_modules inspector

Serves the metadata of a project's installed packages to browser tooling.
The dev server talks to an inspector backend over a websocket JSON-RPC
channel; the backend runs in-process unless backend.url points elsewhere.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			color.NoColor = true
		}
	}

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewBackendCommand())
	rootCmd.AddCommand(NewInspectCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), color.NoColor)
			kv.AddRow("modinspect version", Version)
			kv.AddRow("Git commit", GitCommit)
			kv.AddRow("Build date", BuildDate)
			kv.AddRow("Go version", runtime.Version())
			kv.Render()
		},
	}
}

// addProjectFlags registers the flags every project command shares.
func addProjectFlags(cmd *cobra.Command) {
	cmd.Flags().String("cwd", "", "project directory (default: current directory)")
	cmd.Flags().String("mode", "", "operating mode: dev, prod or build")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn or error")
	cmd.Flags().String("storage", "", "storage driver: memory, redis, sqlite or postgres")
}

var projectBindings = map[string]string{
	"project.cwd":    "cwd",
	"mode":           "mode",
	"log.level":      "log-level",
	"storage.driver": "storage",
}

// loadConfig binds the given config keys to cmd's flags and loads the
// configuration. Flags override the file and environment.
func loadConfig(cmd *cobra.Command, bindings ...map[string]string) (*config.Config, error) {
	v := config.NewViper()
	for _, binding := range bindings {
		for key, name := range binding {
			flag := cmd.Flags().Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	cfg, err := config.LoadWith(v)
	if err != nil {
		return nil, ui.ConfigError(err)
	}
	return cfg, nil
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprint(rootCmd.ErrOrStderr(), ui.Describe(err, color.NoColor))
		return err
	}
	return nil
}
