package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	QueueName     string `yaml:"queueName"`
	QueueGroup    string `yaml:"queueGroup"`

	// Lending policy. Zero values fall back to the engine defaults.
	DefaultLoanDays  int `yaml:"defaultLoanDays"`
	MaxLoanDays      int `yaml:"maxLoanDays"`
	MaxExtendDays    int `yaml:"maxExtendDays"`
	MaxExtensions    int `yaml:"maxExtensions"`
	MinDaysBeforeDue int `yaml:"minDaysBeforeDue"`
	PenaltyPerDay    int `yaml:"penaltyPerDay"`
	ClaimWindowHours int `yaml:"claimWindowHours"`

	// Sweep schedules, standard five-field cron.
	OverdueCron        string `yaml:"overdueCron"`
	ReminderCron       string `yaml:"reminderCron"`
	ExpiryCron         string `yaml:"expiryCron"`
	SchedulerTickSecs  int    `yaml:"schedulerTickSeconds"`
	RunSweepsOnStartup bool   `yaml:"runSweepsOnStartup"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LIBLEND_PENALTY_PER_DAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PenaltyPerDay = n
		}
	}
	if v := os.Getenv("LIBLEND_CLAIM_WINDOW_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClaimWindowHours = n
		}
	}
	if v := os.Getenv("LIBLEND_OVERDUE_CRON"); v != "" {
		cfg.OverdueCron = v
	}
	if v := os.Getenv("LIBLEND_REMINDER_CRON"); v != "" {
		cfg.ReminderCron = v
	}
	if v := os.Getenv("LIBLEND_EXPIRY_CRON"); v != "" {
		cfg.ExpiryCron = v
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.QueueName == "" {
		cfg.QueueName = "liblend:notifications"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "liblend-notifiers"
	}
	if cfg.OverdueCron == "" {
		cfg.OverdueCron = "0 0 * * *"
	}
	if cfg.ReminderCron == "" {
		cfg.ReminderCron = "0 11 * * *"
	}
	if cfg.ExpiryCron == "" {
		cfg.ExpiryCron = "* * * * *"
	}
	if cfg.SchedulerTickSecs <= 0 {
		cfg.SchedulerTickSecs = 30
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml)")
	}
	if cfg.PenaltyPerDay < 0 {
		return errors.New("config: penaltyPerDay must not be negative")
	}
	if cfg.ClaimWindowHours < 0 {
		return errors.New("config: claimWindowHours must not be negative")
	}
	if cfg.MaxLoanDays < 0 || cfg.DefaultLoanDays < 0 {
		return errors.New("config: loan day settings must not be negative")
	}
	if cfg.DefaultLoanDays > 0 && cfg.MaxLoanDays > 0 && cfg.DefaultLoanDays > cfg.MaxLoanDays {
		return errors.New("config: defaultLoanDays must not exceed maxLoanDays")
	}
	return nil
}
