package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   Database   `yaml:"database"`
	RabbitMQ   RabbitMQ   `yaml:"rabbitmq"`
	Redis      Redis      `yaml:"redis"`
	Broker     Broker     `yaml:"broker"`
	JWT        JWT        `yaml:"jwt"`
	Tracking   Tracking   `yaml:"tracking"`
	Driver     Driver     `yaml:"driver"`
	Directions Directions `yaml:"directions"`
}

// Database is optional: without a host the broker runs without persistence.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Name     string `yaml:"database" validate:"required"`
}

// RabbitMQ is optional: without a host the broker runs as a single replica.
type RabbitMQ struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Prefetch int    `yaml:"prefetch" validate:"min=1"`
}

// Redis is optional: without an address latest fixes are kept in memory only.
type Redis struct {
	Addr         string        `yaml:"addr"`
	DB           int           `yaml:"db" validate:"min=0"`
	LatestFixTTL time.Duration `yaml:"latest_fix_ttl" validate:"gt=0"`
}

type Broker struct {
	WSPort          int           `yaml:"ws_port" validate:"min=1,max=65535"`
	GRPCPort        int           `yaml:"grpc_port" validate:"min=1,max=65535"`
	ClientQueueSize int           `yaml:"client_queue_size" validate:"min=1"`
	HandshakeWait   time.Duration `yaml:"handshake_wait" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pong_wait" validate:"gt=0"`
	MaxConcurrent   int           `yaml:"max_concurrent" validate:"min=1"`
}

// JWT is optional: with an empty secret taxi:auth is accepted on identity alone.
type JWT struct {
	SecretKey string        `yaml:"secret_key"`
	TTL       time.Duration `yaml:"ttl"`
}

type Tracking struct {
	HighAccuracy      bool          `yaml:"high_accuracy"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaximumAge        time.Duration `yaml:"maximum_age" validate:"gte=0"`
	RetryCount        int           `yaml:"retry_count" validate:"min=0"`
	MinInterval       time.Duration `yaml:"min_interval" validate:"gte=0"`
	MinDistanceMeters float64       `yaml:"min_distance_meters" validate:"gte=0"`
	MaxAccuracyMeters float64       `yaml:"max_accuracy_meters" validate:"gt=0"`
	EmitInterval      time.Duration `yaml:"emit_interval" validate:"gte=0"`
}

type Driver struct {
	BrokerURL    string        `yaml:"broker_url"`
	DriverID     string        `yaml:"driver_id"`
	Plate        string        `yaml:"patente"`
	Token        string        `yaml:"token"`
	FixSource    string        `yaml:"fix_source"`
	AuthTimeout  time.Duration `yaml:"auth_timeout" validate:"gt=0"`
	MaxAttempts  int           `yaml:"max_attempts" validate:"min=1"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`
}

type Directions struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// LoadFromFile loads config from a YAML file, applies defaults, and validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a config populated only with defaults.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults sets safe defaults for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
	if cfg.RabbitMQ.Prefetch == 0 {
		cfg.RabbitMQ.Prefetch = 8
	}

	if cfg.Redis.LatestFixTTL == 0 {
		cfg.Redis.LatestFixTTL = 10 * time.Minute
	}

	if cfg.Broker.WSPort == 0 {
		cfg.Broker.WSPort = 8080
	}
	if cfg.Broker.GRPCPort == 0 {
		cfg.Broker.GRPCPort = 9090
	}
	if cfg.Broker.ClientQueueSize == 0 {
		cfg.Broker.ClientQueueSize = 32
	}
	if cfg.Broker.HandshakeWait == 0 {
		cfg.Broker.HandshakeWait = 10 * time.Second
	}
	if cfg.Broker.PongWait == 0 {
		cfg.Broker.PongWait = 60 * time.Second
	}
	if cfg.Broker.MaxConcurrent == 0 {
		cfg.Broker.MaxConcurrent = 200
	}

	if cfg.JWT.TTL == 0 {
		cfg.JWT.TTL = 12 * time.Hour
	}

	if cfg.Tracking.Timeout == 0 {
		cfg.Tracking.Timeout = 10 * time.Second
	}
	if cfg.Tracking.RetryCount == 0 {
		cfg.Tracking.RetryCount = 3
	}
	if cfg.Tracking.MinInterval == 0 {
		cfg.Tracking.MinInterval = 500 * time.Millisecond
	}
	if cfg.Tracking.MinDistanceMeters == 0 {
		cfg.Tracking.MinDistanceMeters = 2
	}
	if cfg.Tracking.MaxAccuracyMeters == 0 {
		cfg.Tracking.MaxAccuracyMeters = 20
	}
	if cfg.Tracking.EmitInterval == 0 {
		cfg.Tracking.EmitInterval = time.Second
	}

	if cfg.Driver.AuthTimeout == 0 {
		cfg.Driver.AuthTimeout = 10 * time.Second
	}
	if cfg.Driver.MaxAttempts == 0 {
		cfg.Driver.MaxAttempts = 5
	}
	if cfg.Driver.InitialDelay == 0 {
		cfg.Driver.InitialDelay = time.Second
	}
	if cfg.Driver.MaxDelay == 0 {
		cfg.Driver.MaxDelay = 5 * time.Second
	}

	if cfg.Directions.Timeout == 0 {
		cfg.Directions.Timeout = 8 * time.Second
	}
	if cfg.Directions.Debounce == 0 {
		cfg.Directions.Debounce = 300 * time.Millisecond
	}
}

// validate checks the always-present sections, then each optional section that is configured.
func (c *Config) validate() error {
	v := validator.New()
	var problems []string

	check := func(section string, s any) {
		if err := v.Struct(s); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					problems = append(problems, fmt.Sprintf("%s.%s failed %q", section, strings.ToLower(fe.Field()), fe.Tag()))
				}
				return
			}
			problems = append(problems, fmt.Sprintf("%s: %v", section, err))
		}
	}

	check("broker", c.Broker)
	check("tracking", c.Tracking)
	check("driver", c.Driver)
	check("directions", c.Directions)
	check("redis", c.Redis)

	if c.DatabaseEnabled() {
		check("database", c.Database)
	}
	if c.RabbitMQEnabled() {
		check("rabbitmq", c.RabbitMQ)
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) DatabaseEnabled() bool { return strings.TrimSpace(c.Database.Host) != "" }
func (c *Config) RabbitMQEnabled() bool { return strings.TrimSpace(c.RabbitMQ.Host) != "" }
func (c *Config) RedisEnabled() bool    { return strings.TrimSpace(c.Redis.Addr) != "" }
func (c *Config) JWTEnabled() bool      { return strings.TrimSpace(c.JWT.SecretKey) != "" }

// DriverIdentityComplete reports whether the driver section can start a tracking session.
func (c *Config) DriverIdentityComplete() error {
	var missing []string
	if strings.TrimSpace(c.Driver.BrokerURL) == "" {
		missing = append(missing, "driver.broker_url")
	}
	if strings.TrimSpace(c.Driver.DriverID) == "" {
		missing = append(missing, "driver.driver_id")
	}
	if strings.TrimSpace(c.Driver.Plate) == "" {
		missing = append(missing, "driver.patente")
	}
	if len(missing) > 0 {
		return errors.New("missing required keys: " + strings.Join(missing, ", "))
	}
	return nil
}
