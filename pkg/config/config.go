// Package config carga la configuración del proxy desde YAML, variables de
// entorno y flags (viper), y la valida antes de cualquier actividad de red
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/asaavedra/printer-monitor/pkg/logger"
	"github.com/asaavedra/printer-monitor/pkg/storage"
)

// DefaultFile es el archivo de configuración que se busca sin --config
const DefaultFile = "config.yaml"

// EnvPrefix es el prefijo de las variables de entorno propias del proxy
const EnvPrefix = "PRINTMON"

// Config contiene la configuración completa del proxy
type Config struct {
	SNMP      SNMPConfig      `mapstructure:"snmp" yaml:"snmp"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Storage   storage.Config  `mapstructure:"storage" yaml:"storage"`
	Logging   logger.Config   `mapstructure:"logging" yaml:"logging"`
}

// SNMPConfig parámetros compartidos por discovery y monitoreo
type SNMPConfig struct {
	Community string        `mapstructure:"community" yaml:"community"`
	Version   string        `mapstructure:"version" yaml:"version"` // 1 | 2c
	Port      int           `mapstructure:"port" yaml:"port"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DiscoveryConfig parámetros del escaneo de subredes
type DiscoveryConfig struct {
	Subnet         string `mapstructure:"subnet" yaml:"subnet"`
	Location       string `mapstructure:"location" yaml:"location"`
	MaxConcurrency int    `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	MaxHosts       int    `mapstructure:"max_hosts" yaml:"max_hosts"`
}

// MonitorConfig parámetros de los ciclos de monitoreo
type MonitorConfig struct {
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxConcurrency    int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	LowTonerThreshold int           `mapstructure:"low_toner_threshold" yaml:"low_toner_threshold"`
	StateDir          string        `mapstructure:"state_dir" yaml:"state_dir"`
	StartupBackoff    time.Duration `mapstructure:"startup_backoff" yaml:"startup_backoff"`
	StartupRetries    int           `mapstructure:"startup_retries" yaml:"startup_retries"` // negativo = sin límite
	RetentionDays     int           `mapstructure:"retention_days" yaml:"retention_days"`   // 0 desactiva la retención
}

// Error es un valor de configuración inválido
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// legacyEnv son los nombres de variables heredados que siguen aceptándose
var legacyEnv = map[string]string{
	"snmp.community":              "SNMP_COMMUNITY",
	"snmp.timeout":                "SNMP_TIMEOUT",
	"monitor.interval":            "MONITOR_INTERVAL",
	"storage.mode":                "MONITOR_MODE",
	"storage.cloud.api_url":       "CLOUD_API_URL",
	"storage.cloud.api_key":       "CLOUD_API_KEY",
	"storage.cloud.enable_buffer": "CLOUD_ENABLE_BUFFER",
	"logging.level":               "LOG_LEVEL",
}

// flagKeys asocia flags de la CLI con claves de configuración
var flagKeys = map[string]string{
	"interval":    "monitor.interval",
	"community":   "snmp.community",
	"timeout":     "snmp.timeout",
	"mode":        "storage.mode",
	"log-level":   "logging.level",
	"debug":       "logging.debug",
	"location":    "discovery.location",
	"concurrency": "discovery.max_concurrency",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("snmp.community", "public")
	v.SetDefault("snmp.version", "2c")
	v.SetDefault("snmp.port", 161)
	v.SetDefault("snmp.timeout", 2*time.Second)

	v.SetDefault("discovery.subnet", "192.168.1.0/24")
	v.SetDefault("discovery.location", "Auto-discovered")
	v.SetDefault("discovery.max_concurrency", 20)
	v.SetDefault("discovery.max_hosts", 65536)

	v.SetDefault("monitor.interval", 5*time.Minute)
	v.SetDefault("monitor.max_concurrency", 20)
	v.SetDefault("monitor.low_toner_threshold", 20)
	v.SetDefault("monitor.state_dir", "state")
	v.SetDefault("monitor.startup_backoff", 60*time.Second)
	v.SetDefault("monitor.startup_retries", 1)
	v.SetDefault("monitor.retention_days", 365)

	v.SetDefault("storage.mode", storage.ModeLocal)
	v.SetDefault("storage.local.dsn", storage.DefaultLocalDSN)
	v.SetDefault("storage.local.device_id", 1)
	v.SetDefault("storage.cloud.api_url", "")
	v.SetDefault("storage.cloud.api_key", "")
	v.SetDefault("storage.cloud.enable_buffer", true)
	v.SetDefault("storage.cloud.buffer_dir", "buffer")
	v.SetDefault("storage.cloud.retry_interval", storage.DefaultRetryInterval)
	v.SetDefault("storage.cloud.request_timeout", 10*time.Second)
	v.SetDefault("storage.cloud.retry_max", 2)
	v.SetDefault("storage.cloud.retry_wait_min", time.Second)
	v.SetDefault("storage.cloud.retry_wait_max", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.debug", false)
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.pretty", true)
}

// Default devuelve la configuración por defecto
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err) // solo falla si los valores por defecto están mal declarados
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		// el nombre con prefijo tiene prioridad sobre el heredado
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy)
	}
	return v
}

// Load lee path (si existe), aplica entorno y flags, y valida el resultado.
// Un path vacío usa DefaultFile; un archivo inexistente se ignora.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if path == "" {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// secondsToDurationHook interpreta números sin unidad como segundos
// (SNMP_TIMEOUT=2, MONITOR_INTERVAL=300)
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) || from == to {
			return data, nil
		}

		switch from.Kind() {
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if secs, err := strconv.ParseFloat(s, 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
			return data, nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// Validate comprueba la configuración; el primer problema se devuelve como *Error
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SNMP.Community) == "" {
		return &Error{Field: "snmp.community", Reason: "must not be empty"}
	}
	if c.SNMP.Version != "1" && c.SNMP.Version != "2c" {
		return &Error{Field: "snmp.version", Reason: fmt.Sprintf("unsupported version %q (use 1 or 2c)", c.SNMP.Version)}
	}
	if c.SNMP.Port < 1 || c.SNMP.Port > 65535 {
		return &Error{Field: "snmp.port", Reason: fmt.Sprintf("%d out of range", c.SNMP.Port)}
	}
	if c.SNMP.Timeout <= 0 {
		return &Error{Field: "snmp.timeout", Reason: "must be positive"}
	}

	if c.Discovery.MaxConcurrency < 1 {
		return &Error{Field: "discovery.max_concurrency", Reason: "must be at least 1"}
	}
	if c.Discovery.MaxHosts < 1 {
		return &Error{Field: "discovery.max_hosts", Reason: "must be at least 1"}
	}

	if c.Monitor.Interval <= 0 {
		return &Error{Field: "monitor.interval", Reason: "must be positive"}
	}
	if c.Monitor.MaxConcurrency < 1 {
		return &Error{Field: "monitor.max_concurrency", Reason: "must be at least 1"}
	}
	if c.Monitor.LowTonerThreshold < 0 || c.Monitor.LowTonerThreshold > 100 {
		return &Error{Field: "monitor.low_toner_threshold", Reason: "must be within [0,100]"}
	}
	if c.Monitor.StartupBackoff < 0 {
		return &Error{Field: "monitor.startup_backoff", Reason: "must not be negative"}
	}
	if c.Monitor.RetentionDays < 0 {
		return &Error{Field: "monitor.retention_days", Reason: "must not be negative"}
	}

	switch c.Storage.Mode {
	case storage.ModeLocal:
	case storage.ModeCloud:
		if c.Storage.Cloud.BaseURL == "" {
			return &Error{Field: "storage.cloud.api_url", Reason: "required in cloud mode"}
		}
		u, err := url.Parse(c.Storage.Cloud.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &Error{Field: "storage.cloud.api_url", Reason: fmt.Sprintf("malformed url %q", c.Storage.Cloud.BaseURL)}
		}
		if c.Storage.Cloud.APIKey == "" {
			return &Error{Field: "storage.cloud.api_key", Reason: "required in cloud mode"}
		}
	default:
		return &Error{Field: "storage.mode", Reason: fmt.Sprintf("unknown mode %q (use local or cloud)", c.Storage.Mode)}
	}

	return nil
}

// MaskedAPIKey devuelve la API key truncada para mostrarla en consola
func (c *Config) MaskedAPIKey() string {
	key := c.Storage.Cloud.APIKey
	if len(key) <= 10 {
		return key
	}
	return key[:10] + "..."
}
