// Package config loads typed configuration structs from environment
// variables, with optional .env file support for local development.
//
// It wraps github.com/caarlos0/env/v11 for struct parsing and
// github.com/joho/godotenv for env files. Each configuration type is
// parsed once per process and cached, so components can call Load for
// their own config without coordinating:
//
//	type RedisConfig struct {
//		URL string `env:"REDIS_URL,required"`
//	}
//
//	var cfg RedisConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// ResetCache exists for tests that mutate the environment between loads.
package config
