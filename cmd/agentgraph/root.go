package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds the process configuration shared by every command.
type cli struct {
	v       *viper.Viper
	cfgFile string
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "agentgraph",
		Short: "Run configurable agent workflows",
		Long: `agentgraph executes agents: configured instances of the extractor,
explorer, generator, conversational and tiered_vision workflows.
Runs are checkpointed per thread so retried requests resume.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd.ErrOrStderr())
		},
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default: ./agentgraph.yaml)")
	flags.String("agents", "agents.yaml", "agent configuration file")
	flags.String("gateway-url", "", "capability gateway base URL")
	flags.String("checkpoint-driver", "memory", "checkpoint store (memory, sqlite, redis, mongo)")
	flags.String("checkpoint-dsn", "", "checkpoint store DSN")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = c.v.BindPFlag("agents", flags.Lookup("agents"))
	_ = c.v.BindPFlag("gateway.url", flags.Lookup("gateway-url"))
	_ = c.v.BindPFlag("checkpoint.driver", flags.Lookup("checkpoint-driver"))
	_ = c.v.BindPFlag("checkpoint.dsn", flags.Lookup("checkpoint-dsn"))
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", flags.Lookup("log-format"))

	c.v.SetDefault("config.cache_ttl", "30s")
	c.v.SetDefault("server.addr", ":8080")
	c.v.SetDefault("metrics.prometheus", true)

	root.AddCommand(
		newServeCmd(c),
		newRunCmd(c),
		newAgentsCmd(c),
		newCheckpointsCmd(c),
	)
	return root
}

func (c *cli) init(stderr io.Writer) error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.SetConfigName("agentgraph")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(".")
		c.v.AddConfigPath("$HOME/.config/agentgraph")
	}

	c.v.SetEnvPrefix("AGENTGRAPH")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	logger, err := newLogger(stderr, c.v.GetString("log.level"), c.v.GetString("log.format"))
	if err != nil {
		return err
	}
	c.logger = logger
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
