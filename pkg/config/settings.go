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
	Database       DbSettings      `mapstructure:"database"`
	Broker         BrokerSettings  `mapstructure:"broker"`
	Webhooks       WebhookSettings `mapstructure:"webhooks"`
	WebhookTimeout time.Duration   `mapstructure:"webhook_timeout"`
	NotifyInterval time.Duration   `mapstructure:"notify_interval"`
	ListenAddr     string          `mapstructure:"listen_addr"`
	Observability  Observability   `mapstructure:"observability"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	viper.SetConfigType("yaml") // Set the config type to YAML
	viper.SetConfigName("flowmirror")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	viper.SetDefault("webhook_timeout", 10*time.Second)
	viper.SetDefault("notify_interval", 2*time.Second)
	viper.SetDefault("listen_addr", ":8080")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	err := mergeConfig(filePath, "flowmirror."+env)
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

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("FLOWMIRROR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like FLOWMIRROR_DATABASE_TYPE

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("database.type")
	viper.BindEnv("database.uri")
	viper.BindEnv("database.dsn")
	viper.BindEnv("database.name")
	viper.BindEnv("broker.type")
	viper.BindEnv("broker.url")
	viper.BindEnv("broker.topic")
	viper.BindEnv("broker.projectID")
	viper.BindEnv("webhooks.flow_create")
	viper.BindEnv("webhooks.flow_create2")
	viper.BindEnv("webhooks.flow_delete")
	viper.BindEnv("webhooks.flow_delete2")
	viper.BindEnv("webhooks.flow_start")
	viper.BindEnv("webhooks.flow_stop")
	viper.BindEnv("webhooks.user_create")
	viper.BindEnv("webhooks.user_delete")
	viper.BindEnv("webhooks.error_delete")
	viper.BindEnv("webhook_timeout")
	viper.BindEnv("notify_interval")
	viper.BindEnv("listen_addr")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")
	viper.BindEnv("observability.metrics_url")

	if err := viper.Unmarshal(&c); err != nil {
		return err
	}
	return nil
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
