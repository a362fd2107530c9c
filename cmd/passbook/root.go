package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCommand() *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:           "passbook",
		Short:         "Credit ledger and group subscription lifecycle",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("driver", "", "store driver: memory, sqlite, postgres or mongo")
	flags.String("dsn", "", "sqlite path, postgres connection string or mongodb uri")
	flags.String("log-format", "", "log format: text or json")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	bindFlags(v, cmd, map[string]string{
		"config":     "config",
		"driver":     "driver",
		"dsn":        "dsn",
		"log.format": "log-format",
		"log.level":  "log-level",
	}, true)

	cmd.AddCommand(
		newServeCommand(v),
		newSweepCommand(v),
		newSyncCommand(v),
		newMigrateCommand(v),
		newAccountCommand(v),
		newGroupCommand(v),
	)
	return cmd
}

// bindFlags binds viper keys to flags of cmd. Unset flags fall through to
// the config file, the environment and the defaults.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// withApp loads the configuration, starts an app and runs fn against it.
func withApp(v *viper.Viper, cmd *cobra.Command, background bool, fn func(*app) error) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, background)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
