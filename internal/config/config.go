// Package config loads service configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// then environment variables. Command-line flags are applied on top by the
// caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Brownie44l1/food-ai-api/internal/decoder"
	"github.com/Brownie44l1/food-ai-api/internal/model"
	"github.com/Brownie44l1/food-ai-api/internal/nutrition"
	"github.com/Brownie44l1/food-ai-api/internal/recipe"
	"github.com/Brownie44l1/food-ai-api/internal/server"
	"github.com/Brownie44l1/food-ai-api/internal/upstream"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Nutrition NutritionConfig `yaml:"nutrition"`
	Recipe    RecipeConfig    `yaml:"recipe"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
}

type ServerConfig struct {
	Address         string        `yaml:"address"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	MaxPixels       int           `yaml:"max_pixels"`
}

type ModelConfig struct {
	Path          string `yaml:"path"`
	MetadataPath  string `yaml:"metadata_path"`
	SharedLibrary string `yaml:"shared_library"`
	Sessions      int    `yaml:"sessions"`
}

type NutritionConfig struct {
	BaseURL string          `yaml:"base_url"`
	AppID   string          `yaml:"app_id"`
	APIKey  string          `yaml:"api_key"`
	Policy  upstream.Policy `yaml:"policy"`
	Timeout time.Duration   `yaml:"timeout"`
}

type RecipeConfig struct {
	BaseURL     string          `yaml:"base_url"`
	APIKey      string          `yaml:"api_key"`
	Model       string          `yaml:"model"`
	MaxTokens   int             `yaml:"max_tokens"`
	Temperature float32         `yaml:"temperature"`
	Policy      upstream.Policy `yaml:"policy"`
	Timeout     time.Duration   `yaml:"timeout"`
}

// UpstreamConfig holds retry settings shared by every external dependency.
type UpstreamConfig struct {
	Retries   uint64        `yaml:"retries"`
	RetryWait time.Duration `yaml:"retry_wait"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	srv := server.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            srv.Port,
			ReadTimeout:     srv.ReadTimeout,
			WriteTimeout:    srv.WriteTimeout,
			IdleTimeout:     srv.IdleTimeout,
			ShutdownTimeout: srv.ShutdownTimeout,
			MaxUploadBytes:  10 << 20,
			MaxPixels:       decoder.DefaultMaxPixels,
		},
		Model: ModelConfig{
			Path:         "models/food101.onnx",
			MetadataPath: "models/food101_metadata.json",
			Sessions:     1,
		},
		Nutrition: NutritionConfig{
			BaseURL: nutrition.DefaultBaseURL,
			Policy:  upstream.Degrade,
			Timeout: 10 * time.Second,
		},
		Recipe: RecipeConfig{
			BaseURL: recipe.DefaultBaseURL,
			Model:   recipe.DefaultModel,
			Policy:  upstream.Degrade,
			Timeout: 60 * time.Second,
		},
		Upstream: UpstreamConfig{
			Retries:   1,
			RetryWait: 200 * time.Millisecond,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("LOG_LEVEL", &c.LogLevel)

	envString("MODEL_PATH", &c.Model.Path)
	envString("MODEL_METADATA_PATH", &c.Model.MetadataPath)
	envString("ONNXRUNTIME_LIB", &c.Model.SharedLibrary)

	envString("NUTRITIONIX_APP_ID", &c.Nutrition.AppID)
	envString("NUTRITIONIX_API_KEY", &c.Nutrition.APIKey)
	envString("NUTRITION_BASE_URL", &c.Nutrition.BaseURL)

	envString("GEMINI_API_KEY", &c.Recipe.APIKey)
	envString("RECIPE_BASE_URL", &c.Recipe.BaseURL)
	envString("RECIPE_MODEL", &c.Recipe.Model)

	if v, ok := lookup("NUTRITION_POLICY"); ok {
		c.Nutrition.Policy = upstream.Policy(v)
	}
	if v, ok := lookup("RECIPE_POLICY"); ok {
		c.Recipe.Policy = upstream.Policy(v)
	}

	return errors.Join(
		envInt("PORT", &c.Server.Port),
		envInt("MODEL_SESSIONS", &c.Model.Sessions),
		envInt64("MAX_UPLOAD_BYTES", &c.Server.MaxUploadBytes),
		envUint64("UPSTREAM_RETRIES", &c.Upstream.Retries),
		envDuration("NUTRITION_TIMEOUT", &c.Nutrition.Timeout),
		envDuration("RECIPE_TIMEOUT", &c.Recipe.Timeout),
	)
}

// Validate checks ranges and normalizes policy names.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.Server.MaxUploadBytes))
	}
	if c.Model.Sessions <= 0 {
		errs = append(errs, fmt.Errorf("model sessions must be positive, got %d", c.Model.Sessions))
	}
	if c.Model.Path == "" || c.Model.MetadataPath == "" {
		errs = append(errs, errors.New("model path and metadata path are required"))
	}
	if c.Nutrition.Timeout <= 0 || c.Recipe.Timeout <= 0 {
		errs = append(errs, errors.New("upstream timeouts must be positive"))
	}

	var err error
	if c.Nutrition.Policy, err = upstream.ParsePolicy(string(c.Nutrition.Policy)); err != nil {
		errs = append(errs, fmt.Errorf("nutrition: %w", err))
	}
	if c.Recipe.Policy, err = upstream.ParsePolicy(string(c.Recipe.Policy)); err != nil {
		errs = append(errs, fmt.Errorf("recipe: %w", err))
	}

	return errors.Join(errs...)
}

// ServerOptions returns the HTTP server settings.
func (c *Config) ServerOptions() *server.Config {
	cfg := server.DefaultConfig()
	cfg.Address = c.Server.Address
	cfg.Port = c.Server.Port
	cfg.ReadTimeout = c.Server.ReadTimeout
	cfg.WriteTimeout = c.Server.WriteTimeout
	cfg.IdleTimeout = c.Server.IdleTimeout
	cfg.ShutdownTimeout = c.Server.ShutdownTimeout
	return cfg
}

// ModelOptions returns the classifier settings.
func (c *Config) ModelOptions() model.Options {
	return model.Options{
		ModelPath:         c.Model.Path,
		MetadataPath:      c.Model.MetadataPath,
		SharedLibraryPath: c.Model.SharedLibrary,
		Sessions:          c.Model.Sessions,
	}
}

// NutritionClient returns the Nutritionix client settings.
func (c *Config) NutritionClient() nutrition.Config {
	return nutrition.Config{
		BaseURL: c.Nutrition.BaseURL,
		AppID:   c.Nutrition.AppID,
		APIKey:  c.Nutrition.APIKey,
		Timeout: c.Nutrition.Timeout,
	}
}

// NutritionCall returns the call policy for nutrition lookups.
func (c *Config) NutritionCall() upstream.Options {
	return upstream.Options{
		Name:      "nutrition",
		Policy:    c.Nutrition.Policy,
		Timeout:   c.Nutrition.Timeout,
		Retries:   c.Upstream.Retries,
		RetryWait: c.Upstream.RetryWait,
	}
}

// RecipeClient returns the recipe generator settings.
func (c *Config) RecipeClient() recipe.Config {
	return recipe.Config{
		BaseURL:     c.Recipe.BaseURL,
		APIKey:      c.Recipe.APIKey,
		Model:       c.Recipe.Model,
		MaxTokens:   c.Recipe.MaxTokens,
		Temperature: c.Recipe.Temperature,
		Timeout:     c.Recipe.Timeout,
	}
}

// RecipeCall returns the call policy for recipe generation.
func (c *Config) RecipeCall() upstream.Options {
	return upstream.Options{
		Name:      "recipe",
		Policy:    c.Recipe.Policy,
		Timeout:   c.Recipe.Timeout,
		Retries:   c.Upstream.Retries,
		RetryWait: c.Upstream.RetryWait,
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envUint64(key string, dst *uint64) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
