// Command aside serves cached values over HTTP and load-tests the
// get-or-set path against the configured backends.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-aside/v1/config"
	"github.com/mirkobrombin/go-aside/v1/logger"
)

type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "aside",
		Short:         "Cache-aside with distributed stampede protection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml)")
	root.AddCommand(newServeCmd(opts), newStampedeCmd(opts))
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
