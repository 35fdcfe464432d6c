// Package config loads application configuration from environment variables
// into tagged structs, backed by github.com/caarlos0/env and
// github.com/joho/godotenv.
//
// Each config type is parsed once per process and cached, so every component
// (store client, database, server) declares and loads its own config struct
// independently:
//
//	type ServerConfig struct {
//	    Addr string `env:"SERVER_ADDR" envDefault:":8080"`
//	}
//
//	var cfg ServerConfig
//	config.MustLoad(&cfg)
//
// A .env file in the working directory is applied automatically when present;
// LoadEnv loads explicit files, and ResetCache clears the cache for tests.
package config
