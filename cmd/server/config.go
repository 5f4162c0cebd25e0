package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind        string
	port        int
	timeBudget  time.Duration
	idleTimeout time.Duration
	bundle      string
	verbose     bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.timeBudget <= 0 {
		return fmt.Errorf("invalid time budget: %s", c.timeBudget)
	}
	if c.idleTimeout < 0 {
		return fmt.Errorf("invalid idle timeout: %s", c.idleTimeout)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TIPSKLUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quizd",
		Short:         "Relay server for host-authoritative tipsklub quiz rooms.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TIPSKLUB_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TIPSKLUB_PORT)")
	fs.DurationVar(&cfg.timeBudget, "time-budget", 30*time.Second, "answer window per question (env: TIPSKLUB_TIME_BUDGET)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 5*time.Minute, "reap rooms left without any connection for this long; 0 disables (env: TIPSKLUB_IDLE_TIMEOUT)")
	fs.StringVar(&cfg.bundle, "bundle", "", "path to a quiz bundle JSON; empty uses the embedded season bundle (env: TIPSKLUB_BUNDLE)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "debug logging (env: TIPSKLUB_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	return cmd
}
