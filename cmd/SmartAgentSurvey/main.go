package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/api"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/flow"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/genai"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/store"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SmartAgentSurvey state data
	DefaultStateDir = "/var/lib/smartagentsurvey"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "smartagentsurvey.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	engineOpts := buildEngineOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping SmartAgentSurvey with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "engine", len(engineOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, genaiOpts, engineOpts, apiOpts); err != nil {
		slog.Error("SmartAgentSurvey failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SmartAgentSurvey exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	OpenAIBase  string
	Model       string
	APIAddr     string
	Workers     int
	MaxTokens   int
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDSN      *string
	openaiKey  *string
	openaiBase *string
	model      *string
	apiAddr    *string
	workers    *int
	maxTokens  *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("SMARTAGENTSURVEY_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBase:  os.Getenv("OPENAI_BASE_URL"),
		Model:       os.Getenv("OPENAI_MODEL"),
		APIAddr:     os.Getenv("API_ADDR"),
		Workers:     util.ParseIntEnv("EXECUTION_WORKERS", 1),
		MaxTokens:   util.ParseIntEnv("MAX_ANSWER_TOKENS", flow.DefaultMaxTokens),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SMARTAGENTSURVEY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("SMARTAGENTSURVEY_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SMARTAGENTSURVEY_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_BASE_URL_SET", config.OpenAIBase != "",
		"OPENAI_MODEL", config.Model,
		"API_ADDR", config.APIAddr,
		"EXECUTION_WORKERS", config.Workers,
		"MAX_ANSWER_TOKENS", config.MaxTokens)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for SmartAgentSurvey data (overrides $SMARTAGENTSURVEY_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN for the run store (overrides $DATABASE_URL)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiBase: flag.String("openai-base-url", config.OpenAIBase, "OpenAI-compatible API base URL (overrides $OPENAI_BASE_URL)"),
		model:      flag.String("model", config.Model, "chat model for answer generation (overrides $OPENAI_MODEL)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		workers:    flag.Int("workers", config.Workers, "concurrent respondent workers per run (overrides $EXECUTION_WORKERS)"),
		maxTokens:  flag.Int("max-answer-tokens", config.MaxTokens, "answer length budget per generation call (overrides $MAX_ANSWER_TOKENS)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiBase_set", *flags.openaiBase != "",
		"model", *flags.model,
		"apiAddr", *flags.apiAddr,
		"workers", *flags.workers,
		"maxTokens", *flags.maxTokens)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiBase != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.openaiBase))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}
	if *flags.maxTokens > 0 {
		genaiOpts = append(genaiOpts, genai.WithMaxTokens(int64(*flags.maxTokens)))
	}
	return genaiOpts
}

// buildEngineOptions constructs execution engine configuration options
func buildEngineOptions(flags Flags) []flow.Option {
	var engineOpts []flow.Option
	if *flags.workers > 1 {
		engineOpts = append(engineOpts, flow.WithWorkers(*flags.workers))
	}
	if *flags.maxTokens > 0 {
		engineOpts = append(engineOpts, flow.WithMaxTokens(*flags.maxTokens))
	}
	return engineOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.stateDir != "" {
		apiOpts = append(apiOpts, api.WithStateDir(*flags.stateDir))
	}
	return apiOpts
}
