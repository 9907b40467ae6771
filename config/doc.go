// Package config loads connkit configuration from YAML files, .env files and
// the process environment using viper and godotenv.
//
// # Usage
//
//	var cfg bootstrap.AppConfig
//	err := config.LoadConfig("connkitd", &cfg)
//
// Environment variables override file values using the CONNKIT_ prefix with
// underscore-separated paths (e.g. CONNKIT_CONNECTION_URL).
package config
