package profile

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol)
	LLMProvider    string  // Provider identifier: openai, deepseek, openrouter, ollama
	LLMBaseURL     string  // Base URL (optional, has default per provider)
	LLMModel       string  // Model name
	LLMMaxTokens   int     // Maximum output tokens per response (default: 4096)
	LLMTemperature float32 // Sampling temperature (default: 0.7)
	LLMTimeout     int     // Request timeout in seconds (default: 120)

	// Drawing export configuration
	ExportMaxDimension int   // Longest edge of exported drawing images (default: 1024)
	ExportMaxBytes     int64 // Upper bound for an exported image payload (default: 5 MiB)

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

// Provider default configurations, applied when base URL or model is not
// explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "anthropic/claude-sonnet-4.6",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
//
// The model API key is deliberately absent here: it lives in the encrypted
// credential store, not in the environment or the profile.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("INKMENTOR_LLM_PROVIDER", "openai")
	p.LLMBaseURL = getEnvOrDefault("INKMENTOR_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("INKMENTOR_LLM_MODEL", "")
	p.LLMMaxTokens = getEnvOrDefaultInt("INKMENTOR_LLM_MAX_TOKENS", 4096)
	p.LLMTimeout = getEnvOrDefaultInt("INKMENTOR_LLM_TIMEOUT_SECONDS", 120)
	if p.LLMTemperature == 0 {
		p.LLMTemperature = 0.7
	}

	p.ExportMaxDimension = getEnvOrDefaultInt("INKMENTOR_EXPORT_MAX_DIMENSION", 1024)
	p.ExportMaxBytes = int64(getEnvOrDefaultInt("INKMENTOR_EXPORT_MAX_BYTES", 5*1024*1024))

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		p.LLMProvider = "openai"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "inkmentor")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					return errors.Wrapf(err, "failed to create data directory %s", p.Data)
				}
			}
		} else {
			p.Data = "/var/opt/inkmentor"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite", "":
		p.Driver = "sqlite"
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, "inkmentor_"+p.Mode+".db")
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for postgres driver")
		}
	default:
		return errors.Errorf("unsupported database driver: %s", p.Driver)
	}

	return nil
}
