// Package cli implements the docmodel command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/docmodel/internal/paths"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// app holds global flag values and the state shared by subcommands.
type app struct {
	configDir string
	dataDir   string
	jsonMode  bool
	verbose   bool

	cfg *viper.Viper
	log *zap.Logger

	stdin      io.Reader
	readSecret func(in io.Reader, out io.Writer, prompt string) (string, error)
}

func newApp() *app {
	return &app{stdin: os.Stdin, readSecret: readPassword}
}

// NewRootCmd creates the top-level "docmodel" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "docmodel",
		Short:         "Entity modeling over a revisioned document store",
		Long:          "docmodel manages schema-driven entities, their relationships and\nmigrations on top of a local MVCC document store.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (default: $(CWD)/.docmodel-db)")
	root.PersistentFlags().BoolVar(&a.jsonMode, "json", false, "output as JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "development logging")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newSchemaCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newCreateCmd(a),
		newMigrationsCmd(a),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Stderr)
}

func run(root *cobra.Command, stderr io.Writer) int {
	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "Error:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// setup loads the configuration and builds the logger.
func (a *app) setup() error {
	dir, err := paths.ResolveConfigDir(a.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return sysError(err)
	}
	a.cfg = cfg
	if a.log == nil {
		if a.log, err = newLogger(a.verbose); err != nil {
			return sysError(fmt.Errorf("build logger: %w", err))
		}
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
