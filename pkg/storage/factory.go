package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	ModeLocal = "local"
	ModeCloud = "cloud"
)

// Config selecciona y configura el backend
type Config struct {
	Mode  string       `mapstructure:"mode" yaml:"mode"` // local | cloud
	Local LocalConfig  `mapstructure:"local" yaml:"local"`
	Cloud RemoteConfig `mapstructure:"cloud" yaml:"cloud"`
}

// New crea el backend indicado por cfg.Mode
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Backend, error) {
	switch cfg.Mode {
	case ModeLocal, "":
		return NewLocal(ctx, cfg.Local, log)
	case ModeCloud:
		return NewRemote(cfg.Cloud, log)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}
