package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DBConfig Database configuration
type DBConfig struct {
	Type     string `yaml:"type" env:"DB_TYPE"` // postgres or sqlite
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	Name     string `yaml:"name" env:"DB_NAME"`
	User     string `yaml:"user" env:"DB_USER"`
	Passwd   string `yaml:"passwd" env:"DB_PASSWD"`
	MaxConn  int    `yaml:"max_conn" env:"DB_MAX_CONN"`
	IdleConn int    `yaml:"idle_conn" env:"DB_IDLE_CONN"`
	Debug    bool   `yaml:"debug" env:"DB_DEBUG"`
}

// SysConfig System configuration
type SysConfig struct {
	Appid    string `yaml:"appid" env:"APPID"`
	Location string `yaml:"location" env:"TZ_LOCATION"`
	Workdir  string `yaml:"workdir" env:"WORKDIR"`
	Debug    bool   `yaml:"debug" env:"DEBUG"`
}

// WebConfig HTTP server configuration
type WebConfig struct {
	Host      string `yaml:"host" env:"WEB_HOST"`
	Port      int    `yaml:"port" env:"PORT"`
	BodyLimit string `yaml:"body_limit" env:"WEB_BODY_LIMIT"`
}

// LogConfig Logger configuration
type LogConfig struct {
	Mode       string `yaml:"mode" env:"LOGGER_MODE"`
	FileEnable bool   `yaml:"file_enable" env:"LOGGER_FILE_ENABLE"`
	Filename   string `yaml:"filename" env:"LOGGER_FILENAME"`
}

// AuthConfig holds the secret used to verify tenant bearer tokens.
type AuthConfig struct {
	JwtSecret string `yaml:"jwt_secret" env:"SUPABASE_JWT_SECRET"`
}

// WebhookConfig describes the external status backend.
type WebhookConfig struct {
	StatusURL    string        `yaml:"status_url" env:"SUPABASE_WEBHOOK_MESSAGE_STATUS_URL"`
	ResponsesURL string        `yaml:"responses_url" env:"SUPABASE_WEBHOOK_RESPONSES_URL"`
	Secret       string        `yaml:"secret" env:"WEBHOOK_SECRET"`
	Timeout      time.Duration `yaml:"timeout" env:"WEBHOOK_TIMEOUT"`
	Workers      int           `yaml:"workers" env:"WEBHOOK_WORKERS"`
}

type WhatsappConfig struct {
	InitTimeout time.Duration `yaml:"init_timeout" env:"WHATSAPP_INIT_TIMEOUT"`
	SendTimeout time.Duration `yaml:"send_timeout" env:"WHATSAPP_SEND_TIMEOUT"`
	LogLevel    string        `yaml:"log_level" env:"WHATSAPP_LOG_LEVEL"`
}

type CampaignConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" env:"CAMPAIGN_MAX_CONCURRENT"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system"`
	Web      WebConfig      `yaml:"web"`
	Database DBConfig       `yaml:"database"`
	Logger   LogConfig      `yaml:"logger"`
	Auth     AuthConfig     `yaml:"auth"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Whatsapp WhatsappConfig `yaml:"whatsapp"`
	Campaign CampaignConfig `yaml:"campaign"`
}

func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetMetricsDir() string {
	return filepath.Join(c.System.Workdir, "metrics")
}

// SqlitePath returns the database file used when Database.Type is sqlite.
func (c *AppConfig) SqlitePath() string {
	if filepath.IsAbs(c.Database.Name) {
		return c.Database.Name
	}
	return filepath.Join(c.GetDataDir(), c.Database.Name)
}

// InitDirs creates the working directories
func (c *AppConfig) InitDirs() error {
	for _, dir := range []string{c.GetDataDir(), c.GetLogDir(), c.GetMetricsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks the settings the server cannot start without.
func (c *AppConfig) Validate() error {
	if c.Auth.JwtSecret == "" {
		return errors.New("auth.jwt_secret (SUPABASE_JWT_SECRET) is required")
	}
	if c.Web.Port <= 0 {
		return fmt.Errorf("invalid web port %d", c.Web.Port)
	}
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	return nil
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "ToughWA",
		Location: "America/Sao_Paulo",
		Workdir:  "/var/toughwa",
		Debug:    false,
	},
	Web: WebConfig{
		Host:      "0.0.0.0",
		Port:      3000,
		BodyLimit: "4M",
	},
	Database: DBConfig{
		Type:     "sqlite",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "toughwa.db",
		User:     "postgres",
		Passwd:   "",
		MaxConn:  50,
		IdleConn: 5,
		Debug:    false,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: false,
		Filename:   "/var/toughwa/logs/toughwa.log",
	},
	Webhook: WebhookConfig{
		Timeout: 10 * time.Second,
		Workers: 128,
	},
	Whatsapp: WhatsappConfig{
		InitTimeout: 90 * time.Second,
		SendTimeout: 30 * time.Second,
		LogLevel:    "WARN",
	},
	Campaign: CampaignConfig{
		MaxConcurrent: 64,
	},
}

// LoadConfig builds the configuration from defaults, then the YAML file (if
// present), then .env and the process environment.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := *DefaultAppConfig
	if cfile == "" {
		cfile = "toughwa.yml"
	}
	if data, err := os.ReadFile(cfile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", cfile, err)
	}

	// .env is optional; existing process variables win over it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
