package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix scopes environment overrides, e.g. CONNKIT_CONNECTION_URL.
const DefaultEnvPrefix = "CONNKIT"

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	Fs         afero.Fs
	ConfigFile string // explicit config file path (optional)
	EnvFile    string // explicit .env file path (optional)
	EnvPrefix  string
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFs sets the filesystem config and env files are read from.
func WithFs(fs afero.Fs) LoaderOption {
	return func(lc *LoaderConfig) { lc.Fs = fs }
}

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnvPrefix overrides DefaultEnvPrefix. An empty prefix binds every
// environment variable.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = prefix }
}

// ResolvedFiles contains the resolved config and env file paths.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles returns explicit paths when given, otherwise the first
// existing candidate from the standard search locations.
func ResolveFiles(fs afero.Fs, serviceName string, lc LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{ConfigFile: lc.ConfigFile, EnvFile: lc.EnvFile}
	if resolved.ConfigFile == "" {
		resolved.ConfigFile = firstExisting(fs, configCandidates(serviceName))
	}
	if resolved.EnvFile == "" {
		resolved.EnvFile = firstExisting(fs, envCandidates(serviceName))
	}
	return resolved
}

func configCandidates(serviceName string) []string {
	var paths []string
	for _, dir := range []string{".", "..", "../.."} {
		paths = append(paths, fmt.Sprintf("%s/cmd/%s/config.yml", dir, serviceName))
	}
	return append(paths, "./config/config.yml", "../config/config.yml", "./config.yml")
}

func envCandidates(serviceName string) []string {
	var paths []string
	for _, name := range []string{".env." + serviceName, ".env"} {
		for _, dir := range []string{"./cmd/" + serviceName, "../cmd/" + serviceName, "./config", "."} {
			paths = append(paths, dir+"/"+name)
		}
	}
	return paths
}

func firstExisting(fs afero.Fs, paths []string) string {
	for _, p := range paths {
		if ok, _ := afero.Exists(fs, p); ok {
			return p
		}
	}
	return ""
}

// LoadConfig loads configuration for a service into cfg.
//
// Order of precedence, lowest first: config.yml, variables from the .env
// file, process environment. Variables already present in the process
// environment are never overwritten by the .env file.
func LoadConfig(serviceName string, cfg any, opts ...LoaderOption) error {
	lc := LoaderConfig{EnvPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.Fs == nil {
		lc.Fs = afero.NewOsFs()
	}
	files := ResolveFiles(lc.Fs, serviceName, lc)

	v := viper.New()
	v.SetFs(lc.Fs)

	if files.ConfigFile != "" {
		if ok, _ := afero.Exists(lc.Fs, files.ConfigFile); ok {
			v.SetConfigFile(files.ConfigFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config file %s: %w", files.ConfigFile, err)
			}
		}
	}

	env := environ()
	if files.EnvFile != "" {
		fileEnv, err := readEnvFile(lc.Fs, files.EnvFile)
		if err != nil {
			return fmt.Errorf("read env file %s: %w", files.EnvFile, err)
		}
		for k, val := range fileEnv {
			if _, set := env[k]; !set {
				env[k] = val
			}
		}
	}
	bindEnv(v, env, lc.EnvPrefix)

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config for service %s: %w", serviceName, err)
	}
	return nil
}

func readEnvFile(fs afero.Fs, path string) (map[string]string, error) {
	if ok, _ := afero.Exists(fs, path); !ok {
		return nil, nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return godotenv.Parse(bytes.NewReader(data))
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, val, ok := strings.Cut(kv, "="); ok {
			env[k] = val
		}
	}
	return env
}

// bindEnv sets every prefixed variable under each nested key it could name.
// CONNKIT_BACKEND_REDIS_URL binds backend.redis.url, backend.redis_url, etc.
func bindEnv(v *viper.Viper, env map[string]string, prefix string) {
	for key, val := range env {
		if prefix != "" {
			rest, ok := strings.CutPrefix(key, prefix+"_")
			if !ok {
				continue
			}
			key = rest
		}
		for _, variant := range envKeyVariants(key) {
			v.Set(variant, val)
		}
	}
}

// envKeyVariants splits an env key at every underscore boundary so that keys
// whose leaf contains underscores (max_attempts) still bind.
//
//	RETRY_MAX_RETRIES -> [retry_max_retries, retry.max.retries, retry.max_retries, retry_max.retries]
func envKeyVariants(envKey string) []string {
	lower := strings.ToLower(envKey)
	parts := strings.Split(lower, "_")
	if len(parts) == 1 {
		return []string{lower}
	}

	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(lower)
	add(strings.Join(parts, "."))
	for i := 1; i < len(parts); i++ {
		add(strings.Join(parts[:i], ".") + "." + strings.Join(parts[i:], "_"))
		add(strings.Join(parts[:i], "_") + "." + strings.Join(parts[i:], "."))
	}
	return out
}
