// Command dispatchctl runs operator maintenance against the dispatch store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"wadispatch/internal/app"
	"wadispatch/internal/config"
	"wadispatch/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var Version = "dev"

// opener builds the dependency graph for one command invocation.
type opener func(ctx context.Context) (*app.App, error)

type cli struct {
	configPath string
	verbose    bool
	open       opener
}

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd wires every subcommand. A nil open loads the app from --config.
func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}
	if c.open == nil {
		c.open = c.openFromConfig
	}

	rootCmd := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Operator tooling for the WhatsApp dispatch service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.json", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging (includes sensitive information)")

	rootCmd.AddCommand(c.dlqCmd())
	rootCmd.AddCommand(c.scheduledCmd())
	rootCmd.AddCommand(c.sweepCmd())
	rootCmd.AddCommand(c.contactsCmd())
	rootCmd.AddCommand(c.migrateCmd())
	return rootCmd
}

func (c *cli) openFromConfig(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	app.ConfigureLogger(logger, cfg.LogLevel, c.verbose)
	return app.New(ctx, cfg, logger, app.Options{SkipMQTT: true})
}

// withApp opens the app, runs fn and closes the app again.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := service.WithVerbose(cmd.Context(), c.verbose)
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
