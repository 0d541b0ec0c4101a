package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/wsv/observability"
)

type wsvApp struct {
	baseCmd    *cobra.Command
	baseConfig *baseConfiguration
}

// New creates the wsv application, logF is used to build the logger from configuration.
func New(logF LoggerFactory) *wsvApp {
	baseCmd, baseConfig := newBaseCmd(logF)
	return &wsvApp{baseCmd, baseConfig}
}

// Execute adds all child commands and runs the application
func (a *wsvApp) Execute(ctx context.Context) (err error) {
	defer func() {
		err = errors.Join(err, a.baseConfig.shutdown())
	}()

	a.baseCmd.AddCommand(newRestoreCmd(a.baseConfig))
	a.baseCmd.AddCommand(newStatusCmd(a.baseConfig))
	a.baseCmd.AddCommand(newDumpCmd(a.baseConfig))
	return a.baseCmd.ExecuteContext(ctx)
}

func newBaseCmd(logF LoggerFactory) (*cobra.Command, *baseConfiguration) {
	config := &baseConfiguration{loggerBuilder: logF}
	// baseCmd represents the base command when called without any subcommands
	var baseCmd = &cobra.Command{
		Use:           "wsv",
		Short:         "World state view maintenance tool",
		Long:          `wsv inspects the block store and the world state view of a node and restores the world state from the blocks.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// If subcommand does not define PersistentPreRunE, the one from base cmd is used.
			if err := initializeConfig(cmd, config); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addConfigurationFlags(baseCmd)

	return baseCmd, config
}

func initializeConfig(cmd *cobra.Command, config *baseConfiguration) error {
	if err := config.initializeConfig(cmd); err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}

	log, err := config.initLogger(cmd)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	metrics, err := cmd.Flags().GetString(keyMetrics)
	if err != nil {
		return fmt.Errorf("reading flag %q: %w", keyMetrics, err)
	}
	if metrics == observability.ExporterPrometheus && config.metricsPushURL == "" {
		return fmt.Errorf("%s exporter requires --%s", metrics, keyMetricsPushURL)
	}
	config.metricsJob = "wsv_" + cmd.Name()
	if config.observe, err = observability.New(metrics, log); err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	return nil
}

// initializeConfig reads in config file and ENV variables if set.
func (config *baseConfiguration) initializeConfig(cmd *cobra.Command) error {
	v := viper.New()

	config.initConfigFileLocation()

	if config.configFileExists() {
		v.SetConfigFile(config.CfgFile)
	}

	// It's okay if there isn't a config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	// flag like --wsv-db binds to environment variable WSV_WSV_DB
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := bindFlags(cmd, v); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// Bind each cobra flag to its associated viper configuration (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var bindFlagErr []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == keyHome || f.Name == keyConfig {
			// "home" and "config" are special configuration values, handled separately.
			return
		}

		// Environment variables can't have dashes in them, so bind them to their equivalent
		// keys with underscores, e.g. --log-level to WSV_LOG_LEVEL
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				bindFlagErr = append(bindFlagErr, fmt.Errorf("binding env to flag %q: %w", f.Name, err))
				return
			}
		}

		// Apply the viper config value to the flag when the flag is not set and viper has a value
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				bindFlagErr = append(bindFlagErr, fmt.Errorf("setting flag %q value: %w", f.Name, err))
				return
			}
		}
	})

	return errors.Join(bindFlagErr...)
}

// shutdown releases the resources acquired by the commands and pushes the metrics.
func (config *baseConfiguration) shutdown() error {
	var g errgroup.Group
	for _, fn := range config.closers {
		g.Go(fn)
	}
	err := g.Wait()
	if config.observe == nil {
		return err
	}
	if config.metricsPushURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, config.observe.PushMetrics(ctx, config.metricsPushURL, config.metricsJob))
	}
	return errors.Join(err, config.observe.Shutdown())
}
