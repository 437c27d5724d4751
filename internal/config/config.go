package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"ledger-service/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	JWT      JWTConfig      `yaml:"jwt"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Log      logger.Config  `yaml:"log"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	Env          string        `yaml:"env"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // mysql or sqlite
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type AMQPConfig struct {
	URI      string `yaml:"uri"`
	Exchange string `yaml:"exchange"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type LedgerConfig struct {
	DailyRate         string `yaml:"daily_rate"`
	MinimumWithdrawal string `yaml:"minimum_withdrawal"`
	AccrualSchedule   string `yaml:"accrual_schedule"`
	Timezone          string `yaml:"timezone"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Env:          "development",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // streaming endpoints hold the connection open
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "ledger.db",
			Port:            "3306",
			MaxIdleConns:    10,
			MaxOpenConns:    50,
			ConnMaxLifetime: time.Hour,
		},
		AMQP: AMQPConfig{Exchange: "ledger.events"},
		JWT:  JWTConfig{Issuer: "ledger-service"},
		Ledger: LedgerConfig{
			DailyRate:         "0.06",
			MinimumWithdrawal: "50",
			AccrualSchedule:   "0 0 * * *",
			Timezone:          "Local",
		},
		Log: logger.Config{Level: "info"},
	}
}

// Load reads .env (optional), then the YAML file named by LEDGER_CONFIG (optional),
// then applies environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Env, "APP_ENV")

	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Name, "DB_NAME")
	setInt(&cfg.Database.MaxOpenConns, "DB_MAX_OPEN_CONNS")
	setInt(&cfg.Database.MaxIdleConns, "DB_MAX_IDLE_CONNS")

	setString(&cfg.Redis.Addr, "REDIS_URL")
	setString(&cfg.AMQP.URI, "RABBITMQ_URI")
	setString(&cfg.AMQP.Exchange, "RABBITMQ_EXCHANGE")

	setString(&cfg.JWT.Secret, "JWT_SECRET")
	setString(&cfg.JWT.Issuer, "JWT_ISSUER")

	setString(&cfg.Ledger.DailyRate, "LEDGER_DAILY_RATE")
	setString(&cfg.Ledger.MinimumWithdrawal, "LEDGER_MIN_WITHDRAWAL")
	setString(&cfg.Ledger.AccrualSchedule, "LEDGER_ACCRUAL_CRON")
	setString(&cfg.Ledger.Timezone, "LEDGER_TIMEZONE")

	setString(&cfg.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		cfg.Log.Pretty, _ = strconv.ParseBool(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if _, err := c.Ledger.Rate(); err != nil {
		return err
	}
	if _, err := c.Ledger.MinWithdrawal(); err != nil {
		return err
	}
	if _, err := c.Ledger.Location(); err != nil {
		return err
	}
	if c.Server.Env == "production" && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// MySQLDSN returns the DSN, building it from the discrete fields when none is set.
func (c DatabaseConfig) MySQLDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

func (l LedgerConfig) Rate() (decimal.Decimal, error) {
	r, err := decimal.NewFromString(l.DailyRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid daily rate %q: %w", l.DailyRate, err)
	}
	if r.IsNegative() {
		return decimal.Zero, fmt.Errorf("daily rate must not be negative")
	}
	return r, nil
}

func (l LedgerConfig) MinWithdrawal() (decimal.Decimal, error) {
	m, err := decimal.NewFromString(l.MinimumWithdrawal)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid minimum withdrawal %q: %w", l.MinimumWithdrawal, err)
	}
	return m, nil
}

func (l LedgerConfig) Location() (*time.Location, error) {
	if l.Timezone == "" || l.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", l.Timezone, err)
	}
	return loc, nil
}
