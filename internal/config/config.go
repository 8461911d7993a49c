package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	AppStart AppStartConfig `mapstructure:"app_start"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// file the config was read from, empty when none
	Path string `mapstructure:"-"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	SQLitePath     string `mapstructure:"sqlite_path"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv     string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL   time.Duration `mapstructure:"access_token_ttl"`
	AdminUsername    string        `mapstructure:"admin_username"`
	AdminPasswordEnv string        `mapstructure:"admin_password_env"`
}

// CloudConfig describes the signed cloud phone API. Keys are never stored in
// the YAML file, only the names of the environment variables holding them.
type CloudConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Host           string        `mapstructure:"host"`
	Service        string        `mapstructure:"service"`
	AccessKeyEnv   string        `mapstructure:"access_key_env"`
	SecretKeyEnv   string        `mapstructure:"secret_key_env"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type FleetConfig struct {
	PadCodes     []string       `mapstructure:"pad_codes"`
	TemplateIDs  []int          `mapstructure:"template_ids"`
	Packages     PackagesConfig `mapstructure:"packages"`
	DefaultProxy ProxyConfig    `mapstructure:"default_proxy"`
	ProxyCatalog string         `mapstructure:"proxy_catalog"`
	Apps         []AppConfig    `mapstructure:"apps"`
}

type PackagesConfig struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
}

type ProxyConfig struct {
	Country   string  `mapstructure:"country"`
	Code      string  `mapstructure:"code"`
	Proxy     string  `mapstructure:"proxy"`
	TimeZone  string  `mapstructure:"time_zone"`
	Language  string  `mapstructure:"language"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// AppConfig is one entry of the install catalog.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Checksum string `mapstructure:"checksum"`
	Package  string `mapstructure:"package"`
	AppName  string `mapstructure:"app_name"`
	Paired   bool   `mapstructure:"paired"`
}

type TimeoutsConfig struct {
	Global             time.Duration `mapstructure:"global"`
	CheckTask          time.Duration `mapstructure:"check_task"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ReinstallSettle    time.Duration `mapstructure:"reinstall_settle"`
	RebootSettle       time.Duration `mapstructure:"reboot_settle"`
	LocaleSettle       time.Duration `mapstructure:"locale_settle"`
	AppStartRetryDelay time.Duration `mapstructure:"app_start_retry_delay"`
	Reset              time.Duration `mapstructure:"reset"`
	ResetRetry         time.Duration `mapstructure:"reset_retry"`
}

type AppStartConfig struct {
	MaxAttempts  int         `mapstructure:"max_attempts"`
	ScreenWidth  int         `mapstructure:"screen_width"`
	ScreenHeight int         `mapstructure:"screen_height"`
	Taps         []TapConfig `mapstructure:"taps"`
}

// TapConfig is a press at (X, Y), held for Hold, followed by a pause of Delay.
type TapConfig struct {
	X     float64       `mapstructure:"x"`
	Y     float64       `mapstructure:"y"`
	Hold  time.Duration `mapstructure:"hold"`
	Delay time.Duration `mapstructure:"delay"`
}

type NotifyConfig struct {
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads the YAML file at path (optional when empty) and overlays
// OPC_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables automatisch binden, OPC_DATABASE_PASSWORD -> database.password
	v.SetEnvPrefix("OPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.Path = path

	return &config, nil
}

// SavePadCodes rewrites fleet.pad_codes in the config file at path. The other
// keys of the file are kept.
func SavePadCodes(path string, codes []string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	v.Set("fleet.pad_codes", codes)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "openpadcore")
	v.SetDefault("database.user", "openpadcore")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.sqlite_path", "openpadcore.db")

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "30m")
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password_env", "ADMIN_PASSWORD")

	v.SetDefault("cloud.base_url", "https://api.vmoscloud.com")
	v.SetDefault("cloud.host", "api.vmoscloud.com")
	v.SetDefault("cloud.service", "armcloud-paas")
	v.SetDefault("cloud.access_key_env", "CLOUD_ACCESS_KEY")
	v.SetDefault("cloud.secret_key_env", "CLOUD_SECRET_KEY")
	v.SetDefault("cloud.request_timeout", "30s")

	v.SetDefault("fleet.pad_codes", []string{})
	v.SetDefault("fleet.template_ids", []int{})
	v.SetDefault("fleet.default_proxy.country", "Singapore")
	v.SetDefault("fleet.default_proxy.code", "sg")
	v.SetDefault("fleet.default_proxy.time_zone", "Asia/Singapore")
	v.SetDefault("fleet.default_proxy.language", "en")
	v.SetDefault("fleet.default_proxy.latitude", 1.3521)
	v.SetDefault("fleet.default_proxy.longitude", 103.8198)

	v.SetDefault("timeouts.global", "12m")
	v.SetDefault("timeouts.check_task", "5m")
	v.SetDefault("timeouts.poll_interval", "1s")
	v.SetDefault("timeouts.reinstall_settle", "10s")
	v.SetDefault("timeouts.reboot_settle", "5s")
	v.SetDefault("timeouts.locale_settle", "2s")
	v.SetDefault("timeouts.app_start_retry_delay", "5s")
	v.SetDefault("timeouts.reset", "10m")
	v.SetDefault("timeouts.reset_retry", "1m")

	v.SetDefault("app_start.max_attempts", 6)
	v.SetDefault("app_start.screen_width", 1080)
	v.SetDefault("app_start.screen_height", 1920)
	v.SetDefault("app_start.taps", []map[string]any{
		{"x": 540, "y": 1600, "hold": "100ms", "delay": "2s"},
		{"x": 980, "y": 140, "hold": "100ms", "delay": "2s"},
		{"x": 540, "y": 900, "hold": "100ms", "delay": "1s"},
	})

	v.SetDefault("notify.mqtt.client_id", "openpadcore")
	v.SetDefault("notify.mqtt.topic", "openpadcore/status")
	v.SetDefault("notify.mqtt.qos", 1)

	v.SetDefault("logging.level", "info")
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Fleet.PadCodes) == 0 {
		errs = append(errs, errors.New("fleet.pad_codes must not be empty"))
	}
	if len(c.Fleet.TemplateIDs) == 0 {
		errs = append(errs, errors.New("fleet.template_ids must not be empty"))
	}
	if len(c.Fleet.Apps) == 0 {
		errs = append(errs, errors.New("fleet.apps must not be empty"))
	}
	paired := 0
	for i, app := range c.Fleet.Apps {
		if app.Name == "" || app.URL == "" {
			errs = append(errs, fmt.Errorf("fleet.apps[%d]: name and url are required", i))
		}
		if app.Paired {
			paired++
		}
	}
	if len(c.Fleet.Apps) > 0 && paired != 2 {
		errs = append(errs, fmt.Errorf("fleet.apps: exactly two paired apps required, got %d", paired))
	}
	if c.Fleet.Packages.Primary == "" {
		errs = append(errs, errors.New("fleet.packages.primary is required"))
	}
	for name, d := range map[string]time.Duration{
		"timeouts.global":        c.Timeouts.Global,
		"timeouts.check_task":    c.Timeouts.CheckTask,
		"timeouts.poll_interval": c.Timeouts.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.AppStart.MaxAttempts <= 0 {
		errs = append(errs, errors.New("app_start.max_attempts must be positive"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q not supported", c.Database.Driver))
	}
	return errors.Join(errs...)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}

// AdminPassword returns the plaintext admin password from the environment.
func (a *AuthConfig) AdminPassword() string {
	return os.Getenv(a.AdminPasswordEnv)
}

func (c *CloudConfig) AccessKey() string {
	return os.Getenv(c.AccessKeyEnv)
}

func (c *CloudConfig) SecretKey() string {
	return os.Getenv(c.SecretKeyEnv)
}

// ResolvedChecksum returns the configured checksum, or the file name stem of
// the download URL (".../<md5>.apk") when none is configured.
func (a AppConfig) ResolvedChecksum() string {
	if a.Checksum != "" {
		return a.Checksum
	}
	p := a.URL
	if u, err := url.Parse(a.URL); err == nil {
		p = u.Path
	}
	return strings.TrimSuffix(path.Base(p), ".apk")
}
