package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"gopkg.in/yaml.v3"
)

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	OCR        OCRConfig        `yaml:"ocr"`
	AI         AIConfig         `yaml:"ai"`
	Learning   LearningConfig   `yaml:"learning"`
	Duplicates DuplicatesConfig `yaml:"duplicates"`

	// Path to a YAML file with vendor and category rule tables
	RulesPath string `yaml:"rules_path"`

	// Expense categories offered to the LLM and to clients
	Categories []models.Category `yaml:"categories"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // empty: built from DB_* env vars, else no persistence
}

// StorageConfig for the MinIO document archive
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// OCRConfig represents OCR-specific configuration
type OCRConfig struct {
	Engine        string      `yaml:"engine"`   // "tesseract" or "azure"
	Language      string      `yaml:"language"` // OCR language (default: "eng")
	TesseractPath string      `yaml:"tesseract_path"`
	Preprocess    bool        `yaml:"preprocess"`
	TSVConfidence bool        `yaml:"tsv_confidence"` // second tesseract pass for word confidences
	Azure         AzureConfig `yaml:"azure"`
}

// AzureConfig for Azure Computer Vision OCR
type AzureConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// AIConfig represents AI provider configuration
type AIConfig struct {
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama"`

	// Default provider; empty disables LLM-assisted parsing
	DefaultProvider string `yaml:"default_provider"` // "openai", "gemini", "anthropic", "ollama"

	// Parse results below this confidence fall through to the next parser
	MinParseConfidence int `yaml:"min_parse_confidence"`

	Timeout time.Duration `yaml:"timeout"`
}

// OpenAIConfig for OpenAI/Azure OpenAI
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OllamaConfig for local Ollama (OpenAI compatible endpoint)
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// LearningConfig selects where vendor mappings live
type LearningConfig struct {
	Store        string  `yaml:"store"`     // "postgres", "bolt" or "memory"
	BoltPath     string  `yaml:"bolt_path"` // used when store is bolt
	PredictLimit int     `yaml:"predict_limit"`
	DecayFactor  float64 `yaml:"decay_factor"`
}

type DuplicatesConfig struct {
	AmountTolerance float64 `yaml:"amount_tolerance"` // fraction, 0.05 = 5%
	DateWindowDays  int     `yaml:"date_window_days"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Port: 8080,
		Host: "0.0.0.0",
		Log:  LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{
			Bucket: "invoice-documents",
		},
		Auth: AuthConfig{TokenExpireHours: 24},
		OCR: OCRConfig{
			Engine:        "tesseract",
			Language:      "eng",
			TesseractPath: "tesseract",
			Preprocess:    true,
		},
		AI: AIConfig{
			OpenAI:             OpenAIConfig{Model: "gpt-4o-mini"},
			Gemini:             GeminiConfig{Model: "gemini-1.5-flash"},
			Anthropic:          AnthropicConfig{Model: "claude-3-5-haiku-latest"},
			Ollama:             OllamaConfig{BaseURL: "http://localhost:11434/v1", Model: "llama3"},
			MinParseConfidence: 60,
			Timeout:            60 * time.Second,
		},
		Learning: LearningConfig{
			Store:        "memory",
			BoltPath:     "vendor_mappings.db",
			PredictLimit: 5,
			DecayFactor:  0.95,
		},
		Duplicates: DuplicatesConfig{AmountTolerance: 0.05, DateWindowDays: 1},
		Categories: DefaultCategories(),
	}
}

// DefaultCategories is the built-in expense chart of accounts
func DefaultCategories() []models.Category {
	return []models.Category{
		{Code: "5000", Name: "General Expense"},
		{Code: "5010", Name: "Software Subscriptions"},
		{Code: "5020", Name: "AI & Cloud Services"},
		{Code: "5030", Name: "Office Supplies"},
		{Code: "5040", Name: "Travel"},
		{Code: "5050", Name: "Meals & Entertainment"},
		{Code: "5060", Name: "Utilities & Telecom"},
		{Code: "5070", Name: "Professional Services"},
		{Code: "5080", Name: "Shipping & Postage"},
		{Code: "5090", Name: "Advertising & Marketing"},
	}
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// defaults + env only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	if cfg.Learning.PredictLimit <= 0 {
		cfg.Learning.PredictLimit = 5
	}
	if cfg.Learning.DecayFactor <= 0 || cfg.Learning.DecayFactor > 1 {
		cfg.Learning.DecayFactor = 0.95
	}
	if cfg.Duplicates.AmountTolerance <= 0 {
		cfg.Duplicates.AmountTolerance = 0.05
	}
	if cfg.Duplicates.DateWindowDays <= 0 {
		cfg.Duplicates.DateWindowDays = 1
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}
	return cfg, nil
}

// Override with environment variables if present
func applyEnv(cfg *Config) {
	cfg.Port = getEnvAsInt("PORT", cfg.Port)
	cfg.Host = getEnv("HOST", cfg.Host)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	if cfg.Database.URL == "" {
		cfg.Database.URL = databaseURLFromParts()
	}

	cfg.Storage.Endpoint = getEnv("MINIO_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.AccessKey = getEnv("MINIO_ACCESS_KEY", cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = getEnv("MINIO_SECRET_KEY", cfg.Storage.SecretKey)
	cfg.Storage.Bucket = getEnv("MINIO_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.UseSSL = getEnvAsBool("MINIO_USE_SSL", cfg.Storage.UseSSL)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenExpireHours = getEnvAsInt("JWT_EXPIRE_HOURS", cfg.Auth.TokenExpireHours)

	cfg.OCR.Engine = getEnv("OCR_ENGINE", cfg.OCR.Engine)
	cfg.OCR.Language = getEnv("OCR_LANGUAGE", cfg.OCR.Language)
	cfg.OCR.Azure.Endpoint = getEnv("AZURE_VISION_ENDPOINT", cfg.OCR.Azure.Endpoint)
	cfg.OCR.Azure.APIKey = getEnv("AZURE_VISION_KEY", cfg.OCR.Azure.APIKey)

	cfg.AI.DefaultProvider = getEnv("AI_PROVIDER", cfg.AI.DefaultProvider)
	cfg.AI.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.AI.OpenAI.APIKey)
	cfg.AI.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", cfg.AI.OpenAI.BaseURL)
	cfg.AI.OpenAI.Model = getEnv("OPENAI_MODEL", cfg.AI.OpenAI.Model)
	cfg.AI.Gemini.APIKey = getEnv("GEMINI_API_KEY", cfg.AI.Gemini.APIKey)
	cfg.AI.Gemini.Model = getEnv("GEMINI_MODEL", cfg.AI.Gemini.Model)
	cfg.AI.Anthropic.APIKey = getEnv("ANTHROPIC_API_KEY", cfg.AI.Anthropic.APIKey)
	cfg.AI.Anthropic.Model = getEnv("ANTHROPIC_MODEL", cfg.AI.Anthropic.Model)
	cfg.AI.Ollama.BaseURL = getEnv("OLLAMA_BASE_URL", cfg.AI.Ollama.BaseURL)
	cfg.AI.Timeout = getEnvAsDuration("AI_TIMEOUT", cfg.AI.Timeout)

	cfg.Learning.Store = getEnv("LEARNING_STORE", cfg.Learning.Store)
	cfg.Learning.BoltPath = getEnv("BOLT_PATH", cfg.Learning.BoltPath)

	cfg.RulesPath = getEnv("RULES_PATH", cfg.RulesPath)
}

// databaseURLFromParts builds a URL from DB_HOST, DB_PORT, DB_USER,
// DB_PASSWORD and DB_NAME
func databaseURLFromParts() string {
	host := os.Getenv("DB_HOST")
	user := os.Getenv("DB_USER")
	dbname := os.Getenv("DB_NAME")
	if host == "" || user == "" || dbname == "" {
		return ""
	}
	port := getEnv("DB_PORT", "5432")
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable",
		user, os.Getenv("DB_PASSWORD"), host, port, dbname)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
