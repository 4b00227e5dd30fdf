package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string        `mapstructure:"TYPE"`
		Host           string        `mapstructure:"HOST"`
		Port           string        `mapstructure:"PORT"`
		DBNAME         string        `mapstructure:"DBNAME"`
		User           string        `mapstructure:"USER"`
		Password       string        `mapstructure:"PASSWORD"`
		SSLMode        string        `mapstructure:"SSLMODE"`
		Timezone       string        `mapstructure:"TIMEZONE"`
		Path           string        `mapstructure:"PATH"`
		QueryTimeout   time.Duration `mapstructure:"QUERY_TIMEOUT"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Auth struct {
		JWTSecret string `mapstructure:"JWT_SECRET"`
		Issuer    string `mapstructure:"ISSUER"`
		JWKSURL   string `mapstructure:"JWKS_URL"`
	} `mapstructure:"AUTH"`
	Access struct {
		SignInPath  string `mapstructure:"SIGN_IN_PATH"`
		LandingPath string `mapstructure:"LANDING_PATH"`
	} `mapstructure:"ACCESS"`
	Bootstrap struct {
		AutoMigrate bool `mapstructure:"AUTO_MIGRATE"`
		SeedTiers   bool `mapstructure:"SEED_TIERS"`
	} `mapstructure:"BOOTSTRAP"`
	Entitlement struct {
		AccountCacheTTL time.Duration `mapstructure:"ACCOUNT_CACHE_TTL"`
	} `mapstructure:"ENTITLEMENT"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	SMTP struct {
		Host     string `mapstructure:"HOST"`
		Port     int    `mapstructure:"PORT"`
		Username string `mapstructure:"USERNAME"`
		Password string `mapstructure:"PASSWORD"`
		Sender   string `mapstructure:"SENDER"`
	} `mapstructure:"SMTP"`
	Otel struct {
		Endpoint    string  `mapstructure:"ENDPOINT"`
		Protocol    string  `mapstructure:"PROTOCOL"`
		Insecure    bool    `mapstructure:"INSECURE"`
		SampleRatio float64 `mapstructure:"SAMPLE_RATIO"`
	} `mapstructure:"OTEL"`
	Profiling struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PROFILING"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
		ConfigKey   string `mapstructure:"CONFIG_KEY"`
	} `mapstructure:"CONSUL"`
	Vault struct {
		Enable bool   `mapstructure:"ENABLE"`
		Mount  string `mapstructure:"MOUNT"`
		Path   string `mapstructure:"PATH"`
	} `mapstructure:"VAULT"`
	Metrics struct {
		Enable   bool   `mapstructure:"ENABLE"`
		Port     uint32 `mapstructure:"PORT"`
		PushAddr string `mapstructure:"PUSH_ADDR"`
	} `mapstructure:"METRICS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "seekcap-controlplane")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.QUERY_TIMEOUT", 5*time.Second)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("ACCESS.SIGN_IN_PATH", "/auth/signin")
	v.SetDefault("ACCESS.LANDING_PATH", "/")
	v.SetDefault("BOOTSTRAP.AUTO_MIGRATE", true)
	v.SetDefault("BOOTSTRAP.SEED_TIERS", true)
	v.SetDefault("ENTITLEMENT.ACCOUNT_CACHE_TTL", 30*time.Second)
	v.SetDefault("SMTP.PORT", 587)
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("OTEL.SAMPLE_RATIO", 1.0)
	v.SetDefault("VAULT.MOUNT", "secret")
	v.SetDefault("VAULT.PATH", "controlplane")
	v.SetDefault("METRICS.PORT", 9100)
}

// LoadConfig reads config.yaml (or CONFIG_PATH) and lets environment
// variables override any key, e.g. DATABASE_HOST for DATABASE.HOST.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path, ok := os.LookupEnv("CONFIG_PATH"); ok {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		zap.L().Warn("config file not found, using defaults and environment")
	}

	if key := v.GetString("CONSUL.CONFIG_KEY"); key != "" {
		if err := readRemote(v, v.GetString("CONSUL.ADDR"), key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.TLS.Enable && (cfg.TLS.CertPath == "" || cfg.TLS.KeyPath == "") {
		return nil, fmt.Errorf("tls enabled but TLS.CERT_PATH or TLS.KEY_PATH not provided")
	}

	return &cfg, nil
}

// readRemote loads a YAML document from the consul KV store. Remote values
// sit below the local file and the environment.
func readRemote(v *viper.Viper, addr, key string) error {
	if addr == "" {
		return errors.New("CONSUL.CONFIG_KEY is set but CONSUL.ADDR is empty")
	}

	if err := v.AddRemoteProvider("consul", addr, key); err != nil {
		return fmt.Errorf("failed to add remote config provider: %w", err)
	}
	if err := v.ReadRemoteConfig(); err != nil {
		return fmt.Errorf("failed to read remote config %q: %w", key, err)
	}

	zap.L().Info("remote config loaded", zap.String("provider", "consul"), zap.String("key", key))
	return nil
}
