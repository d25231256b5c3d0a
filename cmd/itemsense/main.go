package main

import (
	"os"

	"github.com/Sternrassler/itemsense-client/internal/config"
	"github.com/Sternrassler/itemsense-client/pkg/client"
	"github.com/Sternrassler/itemsense-client/pkg/logging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// configKeyAnnotation marks a flag as an override of a config key.
const configKeyAnnotation = "itemsense/config-key"

// app carries state shared by all subcommands of one invocation.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "itemsense",
		Short: "ItemSense integration client",
		Long: `itemsense talks to an ItemSense asset-tracking instance: it starts location
jobs and reports where items were seen, lists items, registers readers and
streams zone transitions from the message queue.

Settings come from flags, ITEMSENSE_* environment variables, .env and an
optional itemsense.yaml (highest to lowest).`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default: ./itemsense.yaml or $HOME/.itemsense/itemsense.yaml)")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.Bool("log-pretty", false, "Human-readable console logs")
	pf.String("base-url", "", "ItemSense base URL, e.g. http://host/itemsense")
	pf.String("username", "", "ItemSense username")
	pf.String("password", "", "ItemSense password")
	bindFlag(pf, "log-level", "log.level")
	bindFlag(pf, "log-pretty", "log.pretty")
	bindFlag(pf, "base-url", "api.base_url")
	bindFlag(pf, "username", "api.username")
	bindFlag(pf, "password", "api.password")

	cmd.AddCommand(
		newCoordinateCmd(a),
		newItemsCmd(a),
		newSubscribeCmd(a),
		newReadersCmd(a),
	)
	return cmd
}

// bindFlag records that flag overrides key. Bindings are applied only for
// the command being executed, so subcommands may share keys.
func bindFlag(fs *pflag.FlagSet, flag, key string) {
	if err := fs.SetAnnotation(flag, configKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

// load binds the executing command's flags, reads configuration and sets up
// logging. It runs before every subcommand.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = a.v.BindPFlag(keys[0], f)
	})
	if bindErr != nil {
		return errors.Wrap(bindErr, "bind flags")
	}

	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{
		Level:  level,
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})

	a.cfg = cfg
	return nil
}

// newClient builds an API client from the loaded configuration.
func (a *app) newClient() (*client.Client, error) {
	if err := a.cfg.ValidateAPI(); err != nil {
		return nil, err
	}
	return client.New(a.cfg.ClientConfig())
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("itemsense command failed")
		os.Exit(1)
	}
}
