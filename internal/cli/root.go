// Package cli implements the flightbag command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/flightbag/internal/logging"
	"github.com/mesh-intelligence/flightbag/internal/paths"
	"github.com/mesh-intelligence/flightbag/pkg/flightbag"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	logLevel  string
}

// app carries what subcommands share. The root command fills it before
// any subcommand runs.
type app struct {
	flags     rootFlags
	configDir string
	v         *viper.Viper
	cfg       types.Config
	logger    *zap.Logger
}

// NewRootCmd creates the top-level "flightbag" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "flightbag",
		Short: "Disc flight numbers, similar-disc search, and bag gap analysis",
		Long: "flightbag keeps a local catalog of disc golf flight numbers, finds discs\n" +
			"that fly alike, and shows where a bag leaves gaps in speed and stability.",
		Version:           flightbag.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { _ = a.logger.Sync() },
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/"+paths.DefaultDataDirName+")")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output as JSON")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newIngestCmd(a),
		newSyncCmd(a),
		newSearchCmd(a),
		newSimilarCmd(a),
		newBagCmd(a),
		newGapCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// setup resolves directories, loads config.yaml and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	dir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := loadConfig(dir)
	if err != nil {
		return err
	}
	cfg, logCfg, err := decodeConfig(v)
	if err != nil {
		return err
	}
	if cfg.DataDir, err = paths.ResolveDataDir(a.flags.dataDir, cfg.DataDir); err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if a.flags.logLevel != "" {
		logCfg.Level = a.flags.logLevel
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	a.configDir, a.v, a.cfg, a.logger = dir, v, cfg, logger
	return nil
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "flightbag:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// exitCode maps failures of the machine to exitSysError and everything
// else, which the user can fix by changing the command, to exitUserError.
func exitCode(err error) int {
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, types.ErrStorage),
		errors.Is(err, types.ErrStoreClosed),
		errors.Is(err, types.ErrFeedUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &pathErr):
		return exitSysError
	default:
		return exitUserError
	}
}
