package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/food-ai-api/internal/config"
	"github.com/Brownie44l1/food-ai-api/internal/handlers"
	"github.com/Brownie44l1/food-ai-api/internal/logging"
	"github.com/Brownie44l1/food-ai-api/internal/model"
	"github.com/Brownie44l1/food-ai-api/internal/nutrition"
	"github.com/Brownie44l1/food-ai-api/internal/recipe"
	"github.com/Brownie44l1/food-ai-api/internal/server"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

const name = "food-ai-api"

var (
	// overridden during build with ldflags
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newCommand().Run(ctx, os.Args)
	stop()
	if err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    name,
		Usage:   "Food recognition API: classify a photo, then look up nutrition and a recipe",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("FOODAI_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "env-file",
				Value:   ".env",
				Usage:   "Path to a dotenv file loaded before the environment is read",
				Sources: cli.EnvVars("FOODAI_ENV_FILE"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Listen port (overrides PORT)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error (overrides LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Path to the ONNX model (overrides MODEL_PATH)",
			},
			&cli.StringFlag{
				Name:  "metadata",
				Usage: "Path to the model metadata JSON (overrides MODEL_METADATA_PATH)",
			},
			&cli.IntFlag{
				Name:  "sessions",
				Usage: "Number of inference sessions (overrides MODEL_SESSIONS)",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	envErr := godotenv.Load(cmd.String("env-file"))

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	logging.SetDefaultStructuredLoggerWithLevel(name, version, cfg.LogLevel)
	slog.Info("starting",
		"name", name,
		"version", version,
		"commit", commit,
		"date", date,
		"logLevel", cfg.LogLevel)

	if envErr != nil {
		slog.Debug("no dotenv file loaded, using process environment", "path", cmd.String("env-file"))
	}
	if cfg.Nutrition.AppID == "" || cfg.Nutrition.APIKey == "" {
		slog.Warn("nutritionix credentials not set, nutrition lookups will fail")
	}
	if cfg.Recipe.APIKey == "" {
		slog.Warn("GEMINI_API_KEY not set, recipe generation will fail")
	}

	classifier, err := model.NewServer(cfg.ModelOptions())
	if err != nil {
		return fmt.Errorf("initialize model: %w", err)
	}
	defer classifier.Close()

	slog.Info("model loaded",
		"path", cfg.Model.Path,
		"classes", len(classifier.Labels()),
		"sessions", cfg.Model.Sessions)

	handler := handlers.NewHandler(
		classifier,
		nutrition.NewClient(cfg.NutritionClient()),
		recipe.NewGenerator(cfg.RecipeClient()),
		handlers.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		handlers.WithMaxPixels(cfg.Server.MaxPixels),
		handlers.WithNutritionCall(cfg.NutritionCall()),
		handlers.WithRecipeCall(cfg.RecipeCall()),
	)

	slog.Info("upstream policies",
		"nutrition", cfg.Nutrition.Policy,
		"recipe", cfg.Recipe.Policy,
		"retries", cfg.Upstream.Retries)

	return server.New(cfg.ServerOptions(), handler).Run(ctx)
}

// applyFlags overrides cfg with flags given on the command line.
func applyFlags(cmd *cli.Command, cfg *config.Config) error {
	if cmd.IsSet("port") {
		cfg.Server.Port = cmd.Int("port")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("model") {
		cfg.Model.Path = cmd.String("model")
	}
	if cmd.IsSet("metadata") {
		cfg.Model.MetadataPath = cmd.String("metadata")
	}
	if cmd.IsSet("sessions") {
		cfg.Model.Sessions = cmd.Int("sessions")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}
