// Package config resolves runtime settings from defaults, .env files and
// CUSTODIAN_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/custodian-dfir/custodian/internal/utils"
)

const envPrefix = "CUSTODIAN_"

// Config is the resolved runtime configuration.
type Config struct {
	// DataDir holds everything that is not case data: the audit
	// database, the audit signing key, log files.
	DataDir string

	// CaseRoot is the directory the case store manages. Every case
	// lives in its own subdirectory beneath it.
	CaseRoot string

	// ListenAddr is the HTTP API bind address.
	ListenAddr string

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int64
	LogMaxAgeDays int

	// Workers bounds concurrent background jobs (hashing, verification).
	Workers int64

	// APIToken protects the HTTP API when set. Empty disables auth,
	// which is only sensible on a loopback bind.
	APIToken string

	// AuditRetentionDays prunes audit events older than this. Zero
	// keeps everything.
	AuditRetentionDays int

	// AutoRemount makes reconcile passes re-establish missing mounts
	// unless the caller says otherwise.
	AutoRemount bool

	// HashAlgorithms computed for new evidence. Empty means the
	// hasher's default set.
	HashAlgorithms []string
}

// DefaultDataDir is resolved relative to the user's home directory, with
// a working-directory fallback for constrained environments.
func DefaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".custodian")
	}
	return "./custodian-data"
}

func defaults() *Config {
	dataDir := DefaultDataDir()
	workers := int64(runtime.NumCPU())
	if workers > 4 {
		workers = 4
	}
	return &Config{
		DataDir:            dataDir,
		CaseRoot:           filepath.Join(dataDir, "cases"),
		ListenAddr:         "127.0.0.1:8417",
		LogLevel:           "info",
		LogFormat:          "auto",
		LogMaxSizeMB:       50,
		LogMaxAgeDays:      30,
		Workers:            workers,
		AuditRetentionDays: 365,
	}
}

// Load resolves the configuration. Environment variables win over .env
// files; .env in the data directory wins over .env in the working
// directory; everything falls back to defaults.
func Load() (*Config, error) {
	// The data dir may itself be set in the environment, so resolve it
	// before touching its .env file.
	dataDir := utils.GetenvTrim(envPrefix + "DATA_DIR")
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if envFile := filepath.Join(dataDir, ".env"); fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Debug().Str("file", envFile).Msg("Loaded .env file")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from working directory")
	}

	cfg := defaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if val := utils.GetenvTrim(envPrefix + "DATA_DIR"); val != "" {
		c.DataDir = val
		c.CaseRoot = filepath.Join(val, "cases")
	}
	if val := utils.GetenvTrim(envPrefix + "CASE_ROOT"); val != "" {
		c.CaseRoot = val
	}
	if val := utils.GetenvTrim(envPrefix + "LISTEN"); val != "" {
		c.ListenAddr = val
	}
	if val := utils.GetenvTrim(envPrefix + "LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := utils.GetenvTrim(envPrefix + "LOG_FORMAT"); val != "" {
		c.LogFormat = val
	}
	if val := utils.GetenvTrim(envPrefix + "LOG_FILE"); val != "" {
		c.LogFile = val
	}
	if val := utils.GetenvTrim(envPrefix + "LOG_MAX_SIZE_MB"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			c.LogMaxSizeMB = n
		}
	}
	if val := utils.GetenvTrim(envPrefix + "LOG_MAX_AGE_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			c.LogMaxAgeDays = n
		}
	}
	if val := utils.GetenvTrim(envPrefix + "WORKERS"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if val := utils.GetenvTrim(envPrefix + "API_TOKEN"); val != "" {
		c.APIToken = val
	}
	if val := utils.GetenvTrim(envPrefix + "AUDIT_RETENTION_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			c.AuditRetentionDays = n
		}
	}
	if val := utils.GetenvTrim(envPrefix + "AUTO_REMOUNT"); val != "" {
		c.AutoRemount = utils.ParseBool(val)
	}
	if val := utils.GetenvTrim(envPrefix + "HASH_ALGORITHMS"); val != "" {
		c.HashAlgorithms = splitList(val)
	}
}

// Validate reports the first structural problem with the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.CaseRoot == "" {
		return fmt.Errorf("case root must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
