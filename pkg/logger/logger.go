// Package logger construye los loggers estructurados (zerolog) del proxy
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configura el logger raíz
type Config struct {
	Level  string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Debug  bool   `mapstructure:"debug" yaml:"debug"`   // fuerza nivel debug
	Output string `mapstructure:"output" yaml:"output"` // stdout | stderr
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"` // salida legible para consola
}

// New crea el logger raíz según la configuración
func New(cfg Config) (zerolog.Logger, error) {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}

	return NewWithWriter(cfg, output)
}

// NewWithWriter crea el logger raíz escribiendo en w
func NewWithWriter(cfg Config, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel

	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// WithComponent deriva un logger etiquetado con el componente
func WithComponent(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
