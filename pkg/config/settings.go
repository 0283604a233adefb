package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Database      DbSettings       `mapstructure:"database"`
	API           APISettings      `mapstructure:"api"`
	Realtime      RealtimeSettings `mapstructure:"realtime"`
	Notifier      NotifierSettings `mapstructure:"notifier"`
	Network       NetworkSettings  `mapstructure:"network"`
	SyncInterval  time.Duration    `mapstructure:"sync_interval"`
	StateDir      string           `mapstructure:"state_dir" validate:"required"`
	Observability Observability    `mapstructure:"observability"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	viper.SetConfigType("yaml")
	viper.SetConfigName("agent")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	err := mergeConfig(filePath, "agent."+env)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error merging dev config: %s\n", err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("Failed to load from env: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("PETSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like PETSYNC_DATABASE_TYPE

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("database.type")
	viper.BindEnv("database.dsn")
	viper.BindEnv("database.uri")
	viper.BindEnv("database.name")
	viper.BindEnv("api.base_url")
	viper.BindEnv("realtime.stream_url")
	viper.BindEnv("realtime.max_reconnect_attempts")
	viper.BindEnv("realtime.initial_backoff")
	viper.BindEnv("notifier.type")
	viper.BindEnv("notifier.url")
	viper.BindEnv("notifier.exchange")
	viper.BindEnv("notifier.topic")
	viper.BindEnv("notifier.projectID")
	viper.BindEnv("network.probe_url")
	viper.BindEnv("network.probe_interval")
	viper.BindEnv("sync_interval")
	viper.BindEnv("state_dir")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")

	if err := viper.Unmarshal(&c); err != nil {
		return err
	}
	return nil
}

// applyDefaults fills the reference-behavior values for anything the file and
// environment left unset.
func (c *Settings) applyDefaults() {
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.Realtime.MaxReconnectAttempts == 0 {
		c.Realtime.MaxReconnectAttempts = 5
	}
	if c.Realtime.InitialBackoff == 0 {
		c.Realtime.InitialBackoff = time.Second
	}
	if c.Network.ProbeInterval == 0 {
		c.Network.ProbeInterval = 15 * time.Second
	}
	if c.Notifier.Type == "" {
		c.Notifier.Type = "log"
	}
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
