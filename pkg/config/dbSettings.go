package config

// DbSettings holds configuration for the entity store backend.
type DbSettings struct {
	Type string `mapstructure:"type" validate:"required,oneof=mongo postgres memory"`
	URI  string `mapstructure:"uri"`  // Mongo connection string
	DSN  string `mapstructure:"dsn"`  // Postgres connection string
	Name string `mapstructure:"name"` // Mongo database name
}
