package config

// BrokerSettings holds configuration for connecting to the error bus.
type BrokerSettings struct {
	Type      string `mapstructure:"type" validate:"required,oneof=rabbitmq gcp-pubsub channel"`
	URL       string `mapstructure:"url"`
	Topic     string `mapstructure:"topic" validate:"required"`
	ProjectID string `mapstructure:"projectID"` // Optional for brokers like GCP Pub/Sub
	PoolSize  int    `mapstructure:"pool_size"`
}
