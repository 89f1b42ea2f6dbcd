package config

import (
	"github.com/spf13/cobra"
)

type IndexConfig struct {
	Database           Database
	Keyed              KeyedStore
	Redis              RedisConf
	ConfigFileLocation string
	Base               indexBase
	Log                log
	Chains             []ChainConfig
}

type indexBase struct {
	throttlingBase
	retryBase
	SweepIntervalSeconds int64 `mapstructure:"sweep-interval-seconds"`
	ExitWhenCaughtUp     bool  `mapstructure:"exit-when-caught-up"`
	Dry                  bool  `mapstructure:"dry"`
}

func SetupIndexSpecificFlags(conf *IndexConfig, cmd *cobra.Command) {
	cmd.PersistentFlags().Int64Var(&conf.Base.SweepIntervalSeconds, "base.sweep-interval-seconds", 30, "interval between message timeout sweeps")
	cmd.PersistentFlags().BoolVar(&conf.Base.ExitWhenCaughtUp, "base.exit-when-caught-up", false, "exit once all chains have reached their current head")
	cmd.PersistentFlags().BoolVar(&conf.Base.Dry, "base.dry", false, "index the chains but don't insert data in the DB")
	cmd.PersistentFlags().Int64Var(&conf.Base.RequestRetryAttempts, "base.request-retry-attempts", 0, "number of RPC query retries to make")
	cmd.PersistentFlags().Uint64Var(&conf.Base.RequestRetryMaxWait, "base.request-retry-max-wait", 30, "max retry incremental backoff wait time in seconds")
}

func (conf *IndexConfig) Validate() error {
	if err := validateDatabaseConf(conf.Database); err != nil {
		return err
	}

	if err := validateKeyedStoreConf(conf.Keyed); err != nil {
		return err
	}

	if err := validateThrottlingConf(conf.Base.throttlingBase); err != nil {
		return err
	}

	for i, chainConf := range conf.Chains {
		validated, err := validateChainConf(chainConf)
		if err != nil {
			return err
		}
		conf.Chains[i] = validated
	}

	if conf.Base.SweepIntervalSeconds <= 0 {
		conf.Base.SweepIntervalSeconds = 30
	}

	return nil
}

func CheckSuperfluousIndexKeys(keys []string) []string {
	validKeys := make(map[string]struct{})

	addDatabaseConfigKeys(validKeys)
	addLogConfigKeys(validKeys)
	addKeyedStoreConfigKeys(validKeys)
	addRedisConfigKeys(validKeys)

	for _, key := range getValidConfigKeys(indexBase{}, "base") {
		validKeys[key] = struct{}{}
	}

	for _, key := range getValidConfigKeys(throttlingBase{}, "base") {
		validKeys[key] = struct{}{}
	}

	for _, key := range getValidConfigKeys(retryBase{}, "base") {
		validKeys[key] = struct{}{}
	}

	ignoredKeys := make([]string, 0)
	for _, key := range keys {
		// chain entries are a list, viper flattens them with indices
		if key == "chains" || len(key) > 7 && key[:7] == "chains." {
			continue
		}
		if _, ok := validKeys[key]; !ok {
			ignoredKeys = append(ignoredKeys, key)
		}
	}

	return ignoredKeys
}
