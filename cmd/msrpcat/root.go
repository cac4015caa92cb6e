package main

import (
	"fmt"

	msrp "github.com/opd-ai/gomsrp"
	"github.com/spf13/cobra"
)

// cli holds the global flags and the options shared by every subcommand.
type cli struct {
	cfgFile  string
	logLevel string
	opts     *msrp.Options
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "msrpcat",
		Short: "Send and receive MSRP messages",
		Long: `msrpcat is a minimal MSRP (RFC 4975) endpoint. "listen" accepts
sessions and prints or stores every message it receives; "send" dials a
peer and transfers one file or standard input as a single message.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadOptions()
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "YAML options file (default: MSRP_* environment)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: error, warn, info, debug")

	root.AddCommand(c.listenCmd(), c.sendCmd())
	return root
}

func (c *cli) loadOptions() error {
	var err error
	if c.cfgFile != "" {
		c.opts, err = msrp.LoadOptionsFile(c.cfgFile)
	} else {
		c.opts, err = msrp.LoadOptionsFromEnv(msrp.DefaultEnvPrefix)
	}
	if err != nil {
		return fmt.Errorf("failed to load options: %w", err)
	}

	if c.logLevel != "" {
		c.opts.LogLevel = c.logLevel
	}
	return c.opts.ApplyLogLevel()
}
