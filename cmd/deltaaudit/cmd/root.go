package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vegasq/deltaaudit/internal/config"
)

// app carries the settings shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	a := &app{v: config.New()}
	cmd := &cobra.Command{
		Use:   "deltaaudit",
		Short: "deltaaudit counts how a filtered subset of a Delta table changed across its versions.",
		// Errors are reported by main so that version failures print only
		// their diagnostic.
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./deltaaudit.yaml or ~/deltaaudit.yaml)")
	cmd.PersistentFlags().String("log-level", "warn", "log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	cmd.AddCommand(
		investigateCmd(a),
		historyCmd(a),
		schemaCmd(a),
		runsCmd(a),
		seedCmd(a),
	)
	return cmd
}

// init binds the flags of the running command, loads the configuration and
// sets up logging. Flags are bound per command because several commands
// define flags with the same name.
func (a *app) init(cmd *cobra.Command) error {
	var bindErr error
	bind := func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = a.v.BindPFlag(f.Name, f)
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// tableArg returns the table from the positional argument, falling back to
// the configured table.
func (a *app) tableArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if a.cfg.Table != "" {
		return a.cfg.Table, nil
	}
	return "", errMissingTable
}
