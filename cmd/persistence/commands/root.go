package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/zilliqa/persistence-sync/config"
	"github.com/zilliqa/persistence-sync/libs/cli"
	"github.com/zilliqa/persistence-sync/libs/log"
)

var (
	config = cfg.DefaultConfig()
	logger = log.MustNewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo, false)
)

// ParseConfig retrieves the configuration from the viper instance populated
// by flags, environment and the optional config file.
func ParseConfig() (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// RootCmd is the root command for the persistence tooling.
var RootCmd = &cobra.Command{
	Use:   "persistence",
	Short: "Synchronize a node's persistence state with a remote bucket",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		config, err = ParseConfig()
		if err != nil {
			return err
		}

		logger, err = log.NewDefaultLogger(config.LogFormat, config.LogLevel, viper.GetBool(cli.TraceFlag))
		if err != nil {
			return fmt.Errorf("configuring logger: %w", err)
		}

		logger = logger.With("module", "main")
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().String("log-level", config.LogLevel, "log level")
	RootCmd.PersistentFlags().String("log-format", config.LogFormat, "log format (json or plain)")
	RootCmd.PersistentFlags().StringP("storage-path", "s", "", "the path holding the persistence replica")
	RootCmd.PersistentFlags().StringP("bucket-name", "b", "", "the name of the bucket")
	RootCmd.PersistentFlags().StringP("testnet-name", "n", "", "the name of the testnet")
}
