package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location. STUDY_CONFIG overrides it.
var ConfigPath = defaultConfigPath()

const defaultConfigFile = "config.yaml"

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("STUDY_CONFIG")); v != "" {
		return v
	}
	return defaultConfigFile
}

// Session store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Model providers.
const (
	ProviderWorkersAI = "workersai"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	CookieSecure   bool     `yaml:"cookieSecure"`
	TrustedProxies []string `yaml:"trustedProxyCIDRs"`

	SessionStore    string `yaml:"sessionStore"`
	SessionTTLHours int    `yaml:"sessionTTLHours"`
	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`
	RedisPrefix     string `yaml:"redisPrefix"`
	DatabaseURL     string `yaml:"databaseURL"`

	AIProvider         string `yaml:"aiProvider"`
	GenerationModel    string `yaml:"generationModel"`
	WorkersAIAccountID string `yaml:"workersAIAccountID"`
	WorkersAIAPIToken  string `yaml:"workersAIAPIToken"`
	WorkersAIBaseURL   string `yaml:"workersAIBaseURL"`
	OpenAIBaseURL      string `yaml:"openAIBaseURL"`
	OpenAIAPIKey       string `yaml:"openAIAPIKey"`
	GeminiAPIKey       string `yaml:"geminiAPIKey"`
	OllamaBaseURL      string `yaml:"ollamaBaseURL"`

	MaxUploadMB          int    `yaml:"maxUploadMB"`
	MaxPromptRunes       int    `yaml:"maxPromptRunes"`
	ResetContentOnUpload *bool  `yaml:"resetContentOnUpload"`
	PDFToTextCommand     string `yaml:"pdfToTextCommand"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

// ResetsContentOnUpload reports whether a new upload drops cached content.
func (c FileConfig) ResetsContentOnUpload() bool {
	return c.ResetContentOnUpload == nil || *c.ResetContentOnUpload
}

// MinioEnabled reports whether uploaded PDFs are archived.
func (c FileConfig) MinioEnabled() bool {
	return strings.TrimSpace(c.MinioEndpoint) != ""
}

// Load reads config from path (defaults to ConfigPath). A missing default
// file is not an error; settings then come from defaults and environment.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("STUDY_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("STUDY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STUDY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("STUDY_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = b
		}
	}
	if v := os.Getenv("STUDY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("STUDY_SESSION_STORE"); v != "" {
		cfg.SessionStore = v
	}
	if v := os.Getenv("STUDY_SESSION_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLHours = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("STUDY_AI_PROVIDER"); v != "" {
		cfg.AIProvider = v
	}
	if v := os.Getenv("STUDY_GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("CLOUDFLARE_ACCOUNT_ID"); v != "" {
		cfg.WorkersAIAccountID = v
	}
	if v := os.Getenv("CLOUDFLARE_API_TOKEN"); v != "" {
		cfg.WorkersAIAPIToken = v
	}
	if v := os.Getenv("WORKERS_AI_BASE_URL"); v != "" {
		cfg.WorkersAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := os.Getenv("STUDY_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxUploadMB = n
		}
	}
	if v := os.Getenv("STUDY_MAX_PROMPT_RUNES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPromptRunes = n
		}
	}
	if v := os.Getenv("STUDY_RESET_CONTENT_ON_UPLOAD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ResetContentOnUpload = &b
		}
	}
	if v := os.Getenv("STUDY_PDFTOTEXT_COMMAND"); v != "" {
		cfg.PDFToTextCommand = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("STUDY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8787"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	if cfg.SessionStore == "" {
		cfg.SessionStore = StoreMemory
	}
	if cfg.SessionTTLHours == 0 {
		cfg.SessionTTLHours = 24
	}
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if cfg.AIProvider == "" {
		cfg.AIProvider = ProviderWorkersAI
	}
	if cfg.MaxUploadMB == 0 {
		cfg.MaxUploadMB = 25
	}
	if cfg.MaxPromptRunes == 0 {
		cfg.MaxPromptRunes = 60000
	}
	if cfg.PDFToTextCommand == "" {
		cfg.PDFToTextCommand = "pdftotext"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.SessionTTLHours < 0 {
		return errors.New("config: sessionTTLHours must be > 0")
	}
	switch cfg.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for sessionStore=redis (set in config.yaml or REDIS_ADDR)")
		}
	case StorePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for sessionStore=postgres (set in config.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown sessionStore %q (memory, redis or postgres)", cfg.SessionStore)
	}
	switch cfg.AIProvider {
	case ProviderWorkersAI:
		if strings.TrimSpace(cfg.WorkersAIAccountID) == "" || strings.TrimSpace(cfg.WorkersAIAPIToken) == "" {
			return errors.New("config: workersai provider requires CLOUDFLARE_ACCOUNT_ID + CLOUDFLARE_API_TOKEN")
		}
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
			return errors.New("config: openAIBaseURL is required for aiProvider=openai")
		}
		if strings.TrimSpace(cfg.GenerationModel) == "" {
			return errors.New("config: generationModel is required for aiProvider=openai")
		}
	case ProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return errors.New("config: geminiAPIKey is required for aiProvider=gemini (or GEMINI_API_KEY)")
		}
		if strings.TrimSpace(cfg.GenerationModel) == "" {
			return errors.New("config: generationModel is required for aiProvider=gemini")
		}
	case ProviderOllama:
		if strings.TrimSpace(cfg.GenerationModel) == "" {
			return errors.New("config: generationModel is required for aiProvider=ollama")
		}
	default:
		return fmt.Errorf("config: unknown aiProvider %q", cfg.AIProvider)
	}
	if cfg.MaxUploadMB < 0 {
		return errors.New("config: maxUploadMB must be > 0")
	}
	if cfg.MaxPromptRunes < 0 {
		return errors.New("config: maxPromptRunes must be > 0")
	}
	if cfg.MinioEnabled() && strings.TrimSpace(cfg.MinioBucket) == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
