package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Fal contains configuration for the fal.ai generation API.
type Fal struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	RequestTimeout     int    `toml:"request_timeout"`
	GenerationTimeout  int    `toml:"generation_timeout"`
	PollInterval       int    `toml:"poll_interval"`
	PollRatePerSecond  int    `toml:"poll_rate_per_second"`
	BreakerMaxFailures int    `toml:"breaker_max_failures"`
	BreakerCooldown    int    `toml:"breaker_cooldown"`
}

// TikTok contains configuration for the TikTok scraping API.
type TikTok struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Late contains configuration for the Late social posting API.
type Late struct {
	APIKey           string `toml:"api_key"`
	BaseURL          string `toml:"base_url"`
	DefaultAccountID string `toml:"default_account_id"`
	RequestTimeout   int    `toml:"request_timeout"`
	AutoPost         bool   `toml:"auto_post"`
}

// Storage contains configuration for the object storage gateway.
type Storage struct {
	BaseURL        string `toml:"base_url"`
	Bucket         string `toml:"bucket"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
	SignExpiry     int    `toml:"sign_expiry"`
	SignCacheTTL   int    `toml:"sign_cache_ttl"`
	SignCacheMax   int    `toml:"sign_cache_max"`
}

// Render contains configuration for local ffmpeg rendering.
type Render struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	RenderTimeout int    `toml:"render_timeout"`
}

// Workflow contains configuration for daemon timing and fan-out.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	WorkerCount        int `toml:"worker_count"`
	StepTimeout        int `toml:"step_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelpipe.
//
// Configuration sections by subsystem:
//   - Paths: directories, API bind address, and API token
//   - Fal: fal.ai video/image generation API
//   - TikTok: TikTok source video resolution API
//   - Late: social posting API and auto-post behavior
//   - Storage: object storage gateway and signed-URL settings
//   - Render: local ffmpeg rendering for overlay/music/concat steps
//   - Workflow: daemon polling intervals and worker fan-out
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Fal      Fal      `toml:"fal"`
	TikTok   TikTok   `toml:"tiktok"`
	Late     Late     `toml:"late"`
	Storage  Storage  `toml:"storage"`
	Render   Render   `toml:"render"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reelpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a config file was found at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path,
// refusing to overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the configured data, work, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the SQLite job store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "reelpipe.db")
}

// LockPath returns the location of the daemon instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "reelpipe.lock")
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Fal.BaseURL = strings.TrimRight(strings.TrimSpace(c.Fal.BaseURL), "/")
	c.TikTok.BaseURL = strings.TrimRight(strings.TrimSpace(c.TikTok.BaseURL), "/")
	c.Late.BaseURL = strings.TrimRight(strings.TrimSpace(c.Late.BaseURL), "/")
	c.Storage.BaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.BaseURL), "/")
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return abs, nil
}
