package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
)

// These configs are shared across commands, they are not specific to indexing.
type log struct {
	Level  string
	Path   string
	Pretty bool
}

type Database struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	LogLevel string `mapstructure:"log-level"`
}

// KeyedStore configures the badger-backed historical state store.
type KeyedStore struct {
	Directory string
	InMemory  bool `mapstructure:"in-memory"`
}

type RedisConf struct {
	RedisAddr string
	RedisPsw  string
}

type throttlingBase struct {
	Throttling float64 `mapstructure:"throttling"`
}

type retryBase struct {
	RequestRetryAttempts int64  `mapstructure:"request-retry-attempts"`
	RequestRetryMaxWait  uint64 `mapstructure:"request-retry-max-wait"`
}

// ChainConfig is one indexed chain. FinalityModel selects the adapter kind
// and the finality state machine applied to its blocks.
type ChainConfig struct {
	ChainID           string `mapstructure:"chain-id"`
	Name              string `mapstructure:"name"`
	RPC               string `mapstructure:"rpc"`
	FinalityModel     string `mapstructure:"finality-model"`
	ConfirmationDepth int64  `mapstructure:"confirmation-depth"`
	BatchSize         int64  `mapstructure:"batch-size"`
	PollingIntervalMs int64  `mapstructure:"polling-interval-ms"`
}

func SetupLogFlags(logConf *log, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&logConf.Level, "log.level", "info", "log level")
	cmd.PersistentFlags().BoolVar(&logConf.Pretty, "log.pretty", false, "pretty logs")
	cmd.PersistentFlags().StringVar(&logConf.Path, "log.path", "", "log path (default is stdout only)")
}

func SetupDatabaseFlags(databaseConf *Database, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&databaseConf.Host, "database.host", "", "database host")
	cmd.PersistentFlags().StringVar(&databaseConf.Port, "database.port", "5432", "database port")
	cmd.PersistentFlags().StringVar(&databaseConf.Database, "database.database", "", "database name")
	cmd.PersistentFlags().StringVar(&databaseConf.User, "database.user", "", "database user")
	cmd.PersistentFlags().StringVar(&databaseConf.Password, "database.password", "", "database password")
	cmd.PersistentFlags().StringVar(&databaseConf.LogLevel, "database.log-level", "", "database loglevel")
}

func SetupKeyedStoreFlags(keyedConf *KeyedStore, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&keyedConf.Directory, "keyed.directory", "", "directory for the keyed historical store")
	cmd.PersistentFlags().BoolVar(&keyedConf.InMemory, "keyed.in-memory", false, "run the keyed store in memory (testing only)")
}

func SetupRedisFlags(redisConf *RedisConf, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&redisConf.RedisAddr, "redis.addr", "-", "redis address")
	cmd.PersistentFlags().StringVar(&redisConf.RedisPsw, "redis.psw", "-", "redis password")
}

func SetupThrottlingFlag(throttlingValue *float64, cmd *cobra.Command) {
	cmd.PersistentFlags().Float64Var(throttlingValue, "base.throttling", 0.5, "throttle delay")
}

func strNotSet(value string) bool {
	return len(strings.TrimSpace(value)) == 0
}

func validateDatabaseConf(dbConf Database) error {
	if strNotSet(dbConf.Host) {
		return errors.New("database host must be set")
	}
	if strNotSet(dbConf.Port) {
		return errors.New("database port must be set")
	}
	if strNotSet(dbConf.Database) {
		return errors.New("database name (i.e. database) must be set")
	}
	if strNotSet(dbConf.User) {
		return errors.New("database user must be set")
	}
	if strNotSet(dbConf.Password) {
		return errors.New("database password must be set")
	}

	return nil
}

func validateKeyedStoreConf(keyedConf KeyedStore) error {
	if !keyedConf.InMemory && strNotSet(keyedConf.Directory) {
		return errors.New("keyed store directory must be set unless running in memory")
	}
	return nil
}

func validateChainConf(chainConf ChainConfig) (ChainConfig, error) {
	if strNotSet(chainConf.ChainID) {
		return chainConf, errors.New("chain chain-id must be set")
	}
	if strNotSet(chainConf.RPC) {
		return chainConf, errors.New("chain rpc must be set")
	}

	switch chainConf.FinalityModel {
	case "progressive":
		if chainConf.ConfirmationDepth <= 0 {
			return chainConf, fmt.Errorf("chain %s: confirmation-depth must be positive for progressive finality", chainConf.ChainID)
		}
	case "instant":
		// depth is meaningless for instant finality chains
		chainConf.ConfirmationDepth = 0
	default:
		return chainConf, fmt.Errorf("chain %s: finality-model must be progressive or instant", chainConf.ChainID)
	}

	if chainConf.BatchSize <= 0 {
		chainConf.BatchSize = 100
	}
	if chainConf.PollingIntervalMs <= 0 {
		chainConf.PollingIntervalMs = 1000
	}
	if strNotSet(chainConf.Name) {
		chainConf.Name = chainConf.ChainID
	}

	return chainConf, nil
}

func validateThrottlingConf(throttlingConf throttlingBase) error {
	if throttlingConf.Throttling < 0 {
		return errors.New("throttling must be a positive number or 0")
	}
	return nil
}

// getValidConfigKeys walks a config section and returns the viper keys it
// binds, used to warn about superfluous keys in the config file.
func getValidConfigKeys(section any, baseName string) (keys []string) {
	v := reflect.ValueOf(section)
	typeOfS := v.Type()

	if baseName == "" {
		baseName = strings.ToLower(typeOfS.Name())
	}

	for i := 0; i < v.NumField(); i++ {
		field := typeOfS.Field(i)

		// Default to the lowercased field name, same as viper
		name := field.Name
		tag, ok := field.Tag.Lookup("mapstructure")
		if ok {
			name = tag
		}

		if field.Type.Kind() != reflect.Struct {
			key := fmt.Sprintf("%v.%v", baseName, strings.ReplaceAll(strings.ToLower(name), " ", ""))
			keys = append(keys, key)
		}
	}
	return keys
}

func addDatabaseConfigKeys(validKeys map[string]struct{}) {
	for _, key := range getValidConfigKeys(Database{}, "") {
		validKeys[key] = struct{}{}
	}
}

func addLogConfigKeys(validKeys map[string]struct{}) {
	for _, key := range getValidConfigKeys(log{}, "") {
		validKeys[key] = struct{}{}
	}
}

func addKeyedStoreConfigKeys(validKeys map[string]struct{}) {
	for _, key := range getValidConfigKeys(KeyedStore{}, "keyed") {
		validKeys[key] = struct{}{}
	}
}

func addRedisConfigKeys(validKeys map[string]struct{}) {
	for _, key := range getValidConfigKeys(RedisConf{}, "redis") {
		validKeys[key] = struct{}{}
	}
}
