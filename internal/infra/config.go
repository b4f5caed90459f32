package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvProduction = "production"

// Config — корневая структура конфигурации шлюза.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Auth        AuthConfig     `mapstructure:"auth"`
	PDP         PDPConfig      `mapstructure:"pdp"`
	Sync        SyncConfig     `mapstructure:"sync"`
	Logger      LoggerConfig   `mapstructure:"logger"`
	Seed        bool           `mapstructure:"seed"`
}

// ServerConfig описывает HTTP, gRPC (health) и metrics listener-ы.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig — Redis используется только под dead-letter очередь синхронизации с PDP.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig — симметричный ключ сессий и параметры паролей.
// Срок жизни сессии фиксирован (auth.ValidityWindow) и через конфиг не меняется.
type AuthConfig struct {
	TokenSecret string `mapstructure:"token_secret"`
	CookieName  string `mapstructure:"cookie_name"`
	BcryptCost  int    `mapstructure:"bcrypt_cost"`
}

// PDPConfig — внешний Policy Decision Point.
type PDPConfig struct {
	Endpoint string        `mapstructure:"endpoint"` // /allowed
	APIURL   string        `mapstructure:"api_url"`  // /users, /resource_instances
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// Настройки Circuit Breaker для PDP. Пока CBEnabled=false, каждое решение
	// делает одну попытку к PDP, предохранитель никогда не размыкается.
	CBEnabled             bool          `mapstructure:"cb_enabled"`
	CBMaxRequests         uint32        `mapstructure:"cb_max_requests"`
	CBInterval            time.Duration `mapstructure:"cb_interval"`
	CBTimeout             time.Duration `mapstructure:"cb_timeout"`
	CBConsecutiveFailures uint32        `mapstructure:"cb_consecutive_failures"`

	// Roles: внутренняя роль -> роль в словаре PDP
	Roles map[string]string `mapstructure:"roles"`
}

// SyncConfig — фоновая регистрация пользователей и ресурсов в PDP.
type SyncConfig struct {
	Workers   int     `mapstructure:"workers"`
	QueueSize int     `mapstructure:"queue_size"`
	Attempts  uint    `mapstructure:"attempts"`
	RateLimit float64 `mapstructure:"rate_limit"` // запросов в секунду
	RateBurst int     `mapstructure:"rate_burst"`

	// ReplayInterval — как часто dead-letter возвращается в очередь (0 — только при старте)
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// Validate проверяет то, без чего шлюз стартовать не должен.
func (c *Config) Validate() error {
	if c.IsProduction() && c.Auth.TokenSecret == "" {
		return errors.New("config: auth.token_secret is required in production")
	}
	if c.PDP.Endpoint == "" {
		return errors.New("config: pdp.endpoint is required")
	}
	if c.PDP.Timeout <= 0 {
		return errors.New("config: pdp.timeout must be positive")
	}
	if c.Sync.Workers <= 0 || c.Sync.QueueSize <= 0 {
		return errors.New("config: sync.workers and sync.queue_size must be positive")
	}
	return nil
}

// Flags описывает CLI-флаги, которые перекрывают файл и ENV.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("medrec", pflag.ContinueOnError)
	fs.String("config", "", "path to config file (yaml)")
	fs.Bool("seed", false, "provision demo users and records when tables are empty")
	fs.String("environment", "", "deployment environment (development, production)")
	return fs
}

// LoadConfig инициализирует конфигурацию: .env -> дефолты -> файл -> ENV -> флаги.
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// AUTH_TOKEN_SECRET=... перекроет auth.token_secret
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if flags != nil {
		if path, _ := flags.GetString("config"); path != "" {
			v.SetConfigFile(path)
		}
		for _, name := range []string{"seed", "environment"} {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(name, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("seed", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.cookie_name", "session_token")
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("pdp.endpoint", "https://cloudpdp.api.permit.io")
	v.SetDefault("pdp.api_url", "https://api.permit.io/v2/facts/default/production")
	v.SetDefault("pdp.api_key", "")
	v.SetDefault("pdp.timeout", 2*time.Second)
	v.SetDefault("pdp.cb_enabled", false)
	v.SetDefault("pdp.cb_max_requests", 3)
	v.SetDefault("pdp.cb_interval", 10*time.Second)
	v.SetDefault("pdp.cb_timeout", 30*time.Second)
	v.SetDefault("pdp.cb_consecutive_failures", 5)
	v.SetDefault("pdp.roles", map[string]string{
		"administrator": "admin",
		"practitioner":  "doctor",
		"subject":       "patient",
	})

	v.SetDefault("sync.workers", 2)
	v.SetDefault("sync.queue_size", 1000)
	v.SetDefault("sync.attempts", 3)
	v.SetDefault("sync.rate_limit", 20)
	v.SetDefault("sync.rate_burst", 5)
	v.SetDefault("sync.replay_interval", time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
