package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"greenrag/internal/config"
	"greenrag/internal/domain"
	"greenrag/internal/logger"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// Exit codes.
const (
	exitFailure       = 1
	exitConfiguration = 2
	exitProvider      = 3
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

// classify attaches an exit code to err based on its sentinel.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitErr
	if errors.As(err, &ee) {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrConfiguration), errors.Is(err, domain.ErrInvalidK):
		return &exitErr{code: exitConfiguration, err: err}
	case errors.Is(err, domain.ErrProvider):
		return &exitErr{code: exitProvider, err: err}
	}
	return &exitErr{code: exitFailure, err: err}
}

// cli holds state shared by all subcommands.
type cli struct {
	cfgPath string
	verbose bool
	cfg     *config.AppConfig
}

func (c *cli) loadConfig() error {
	logger.SetVerbose(c.verbose)
	var (
		cfg  *config.AppConfig
		path = c.cfgPath
		err  error
	)
	if path == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Debug("Config loaded from %s", path)
	c.cfg = cfg
	return nil
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "greenrag",
		Short:         "Search the EU Green Claims Directive",
		Long:          "greenrag indexes the EU Green Claims Directive and serves article-annotated passages for greenwashing review.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return classify(c.loadConfig())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", "", "Path to YAML config file (default ./greenrag.yaml or ~/.config/greenrag/config.yaml)")
	pf.BoolVar(&c.verbose, "verbose", false, "Print processing steps to stderr")

	root.AddCommand(
		newIndexCmd(c),
		newSearchCmd(c),
		newBrowseCmd(c),
		newServeCmd(c),
	)
	return root
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		logger.Error("%v", err)
		var ee *exitErr
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitFailure)
	}
}
