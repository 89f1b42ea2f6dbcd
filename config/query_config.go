package config

import (
	"github.com/spf13/cobra"
)

type QueryConfig struct {
	Database Database
	Redis    RedisConf
	Log      log
	Base     queryBase
}

type queryBase struct {
	Chain         string `mapstructure:"chain"`
	MessageStatus string `mapstructure:"message-status"`
	Limit         int64  `mapstructure:"limit"`
	Offset        int64  `mapstructure:"offset"`
}

func SetupQuerySpecificFlags(conf *QueryConfig, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&conf.Base.Chain, "query.chain", "", "chain identifier to list blocks for (empty lists chain statuses only)")
	cmd.PersistentFlags().StringVar(&conf.Base.MessageStatus, "query.message-status", "", "only list messages with this status")
	cmd.PersistentFlags().Int64Var(&conf.Base.Limit, "query.limit", 20, "page size for listings")
	cmd.PersistentFlags().Int64Var(&conf.Base.Offset, "query.offset", 0, "page offset for listings")
}

func (conf *QueryConfig) Validate() error {
	return validateDatabaseConf(conf.Database)
}

func CheckSuperfluousQueryKeys(keys []string) []string {
	validKeys := make(map[string]struct{})

	addDatabaseConfigKeys(validKeys)
	addLogConfigKeys(validKeys)
	addRedisConfigKeys(validKeys)

	for _, key := range getValidConfigKeys(queryBase{}, "query") {
		validKeys[key] = struct{}{}
	}

	ignoredKeys := make([]string, 0)
	for _, key := range keys {
		if _, ok := validKeys[key]; !ok {
			ignoredKeys = append(ignoredKeys, key)
		}
	}

	return ignoredKeys
}
