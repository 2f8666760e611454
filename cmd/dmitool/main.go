// dmitool searches, inspects and exports DMI icon files from the command
// line and serves a browser preview of an asset tree.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/dmiscope/internal/assets"
	"github.com/Faultbox/dmiscope/internal/config"
	"github.com/Faultbox/dmiscope/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)
)

// app carries state shared by every subcommand.
type app struct {
	flags *config.Flags
	cfg   *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{}
	root := a.rootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		red.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "dmitool",
		Short: "Search, inspect and export DMI icon files",
		Long: `dmitool indexes DMI sprite sheets below one or more asset roots and
lets you search them by file or state name, inspect their states and export
animations as GIF or PNG.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	a.flags = config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		a.scanCommand(),
		a.searchCommand(),
		a.statesCommand(),
		a.infoCommand(),
		a.exportCommand(),
		a.showCommand(),
		a.purgeCommand(),
		a.serveCommand(),
		a.configCommand(),
		versionCommand(),
	)
	return root
}

// setup loads and validates the configuration and starts logging.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Dir, cfg.Logging.MaxFiles); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	if cfg.Logging.Dir != "" && cfg.Logging.MaxFiles > 0 {
		removed, err := logger.PruneDir(cfg.Logging.Dir, cfg.Logging.MaxFiles, cfg.ProtectedDirs())
		if err != nil {
			logger.Warn("log retention skipped", zap.String("dir", cfg.Logging.Dir), zap.Error(err))
		} else if len(removed) > 0 {
			logger.Debug("pruned old logs", zap.Strings("files", removed))
		}
	}
	logger.Debug("configuration loaded",
		zap.Strings("roots", cfg.Assets.Roots),
		zap.String("cache_dir", cfg.Cache.Dir))
	return nil
}

// manager builds the asset manager from the loaded configuration. Records
// from the core go to the log.
func (a *app) manager() (*assets.Manager, error) {
	opts, err := assets.OptionsFromConfig(a.cfg, logger.NewReporter(logger.Log))
	if err != nil {
		return nil, err
	}
	return assets.NewManager(opts)
}

// scanned builds the manager and indexes the configured roots.
func (a *app) scanned(ctx context.Context) (*assets.Manager, assets.ScanResult, error) {
	m, err := a.manager()
	if err != nil {
		return nil, assets.ScanResult{}, err
	}
	res, err := m.Scan(ctx)
	if err != nil {
		return nil, res, err
	}
	return m, res, nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		// The version needs no configuration.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dmitool version %s\n", version)
		},
	}
}
