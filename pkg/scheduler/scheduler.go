// Package scheduler ejecuta los ciclos de monitoreo: una vez o en bucle con
// intervalo fijo, con health check de arranque y cancelación entre ciclos
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/asaavedra/printer-monitor/pkg/collector"
	"github.com/asaavedra/printer-monitor/pkg/storage"
)

// ErrBackendUnhealthy se devuelve cuando el backend no responde tras los reintentos de arranque
var ErrBackendUnhealthy = storage.ErrBackendUnhealthy

const (
	DefaultInterval       = 5 * time.Minute
	DefaultStartupBackoff = 60 * time.Second
)

// Collector ejecuta una ronda sobre un roster
type Collector interface {
	Collect(ctx context.Context, roster []storage.Printer) map[int64]collector.Outcome
}

// RosterProvider entrega el roster y reporta su salud; normalmente el storage.Backend
type RosterProvider interface {
	HealthCheck(ctx context.Context) bool
	GetPrinters(ctx context.Context) ([]storage.Printer, error)
}

// FailedPrinter es una impresora que falló en el ciclo
type FailedPrinter struct {
	ID     int64  `json:"id"`
	IP     string `json:"ip"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// CycleSummary resume un ciclo
type CycleSummary struct {
	Cycle     int             `json:"cycle"`
	StartedAt time.Time       `json:"started_at"`
	Total     int             `json:"total"` // entradas del roster
	Succeeded int             `json:"succeeded"`
	Failed    []FailedPrinter `json:"failed,omitempty"`
	Skipped   int             `json:"skipped,omitempty"` // pendientes de registro o repetidas
	Duration  time.Duration   `json:"duration"`
	Err       error           `json:"-"` // fallo al obtener el roster
}

// Options configura el scheduler
type Options struct {
	Interval       time.Duration
	StartupBackoff time.Duration
	StartupRetries int // negativo = reintentar siempre
	RetentionDays  int // 0 desactiva la poda

	// OnCycle recibe el resumen de cada ciclo terminado
	OnCycle func(CycleSummary)
}

// Scheduler ejecuta ciclos de monitoreo. No es seguro para uso concurrente.
type Scheduler struct {
	collector Collector
	opts      Options
	log       zerolog.Logger
	cycle     int
	now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.StartupBackoff < 0 {
		o.StartupBackoff = DefaultStartupBackoff
	}
	return o
}

// New crea un scheduler
func New(c Collector, opts Options, log zerolog.Logger) *Scheduler {
	return &Scheduler{collector: c, opts: opts.withDefaults(), log: log, now: time.Now}
}

// Opener abre el backend de almacenamiento (conexión, migraciones)
type Opener func(ctx context.Context) (storage.Backend, error)

// Connect abre el backend y verifica que responda. Si la apertura falla o el
// health check no pasa, repite la secuencia completa tras StartupBackoff,
// hasta StartupRetries veces.
func Connect(ctx context.Context, open Opener, opts Options, log zerolog.Logger) (storage.Backend, error) {
	var backend storage.Backend

	err := retryStartup(ctx, opts.withDefaults(), log, func(ctx context.Context) error {
		b, err := open(ctx)
		if err != nil {
			return err
		}
		if !b.HealthCheck(ctx) {
			_ = b.Close()
			return ErrBackendUnhealthy
		}
		backend = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// RunOnce ejecuta un ciclo sobre roster. El ciclo en curso no se cancela con ctx.
func (s *Scheduler) RunOnce(ctx context.Context, roster []storage.Printer) CycleSummary {
	s.cycle++
	start := s.now()
	summary := CycleSummary{Cycle: s.cycle, StartedAt: start}

	if len(roster) == 0 {
		s.log.Info().Int("cycle", s.cycle).Msg("no printers registered, nothing to monitor")
		return summary
	}

	outcomes := s.collector.Collect(context.WithoutCancel(ctx), roster)

	summary.Total = len(roster)
	summary.Skipped = max(len(roster)-len(outcomes), 0)
	for _, out := range outcomes {
		if out.Succeeded() {
			summary.Succeeded++
			continue
		}
		summary.Failed = append(summary.Failed, FailedPrinter{
			ID:     out.PrinterID,
			IP:     out.IP,
			Stage:  string(out.Stage),
			Reason: out.Err.Error(),
		})
	}
	sort.Slice(summary.Failed, func(i, j int) bool { return summary.Failed[i].ID < summary.Failed[j].ID })
	summary.Duration = s.now().Sub(start)

	s.log.Info().
		Int("cycle", summary.Cycle).
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", len(summary.Failed)).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("cycle complete")

	return summary
}

// RunLoop verifica la salud del backend y ejecuta ciclos hasta que ctx se
// cancele. La cancelación solo se observa durante la espera entre ciclos.
// Devuelve la cantidad de ciclos completados.
func (s *Scheduler) RunLoop(ctx context.Context, provider RosterProvider) (int, error) {
	if err := s.awaitHealthy(ctx, provider); err != nil {
		return 0, err
	}

	completed := 0
	for {
		var summary CycleSummary

		roster, err := provider.GetPrinters(context.WithoutCancel(ctx))
		if err != nil {
			s.cycle++
			s.log.Error().Err(err).Int("cycle", s.cycle).Msg("failed to get printers, skipping cycle")
			summary = CycleSummary{Cycle: s.cycle, StartedAt: s.now(), Err: err}
		} else {
			summary = s.RunOnce(ctx, roster)
		}
		completed++

		s.prune(ctx, provider)

		if s.opts.OnCycle != nil {
			s.opts.OnCycle(summary)
		}

		if err := sleep(ctx, s.opts.Interval); err != nil {
			s.log.Info().Int("cycles", completed).Msg("monitoring stopped")
			return completed, nil
		}
	}
}

// awaitHealthy repite el health check con StartupBackoff entre intentos
func (s *Scheduler) awaitHealthy(ctx context.Context, provider RosterProvider) error {
	return retryStartup(ctx, s.opts, s.log, func(ctx context.Context) error {
		if !provider.HealthCheck(ctx) {
			return ErrBackendUnhealthy
		}
		return nil
	})
}

// retryStartup ejecuta step hasta que no falle. Agotados los reintentos
// devuelve un error que envuelve ErrBackendUnhealthy y la última causa.
func retryStartup(ctx context.Context, opts Options, log zerolog.Logger, step func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := step(ctx)
		if err == nil {
			return nil
		}

		if opts.StartupRetries >= 0 && attempt >= opts.StartupRetries {
			log.Error().Err(err).Int("attempts", attempt+1).Msg("storage backend is not available, giving up")
			if errors.Is(err, ErrBackendUnhealthy) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrBackendUnhealthy, err)
		}

		log.Warn().Err(err).Dur("retry_in", opts.StartupBackoff).Msg("storage backend is not available, will retry")
		if err := sleep(ctx, opts.StartupBackoff); err != nil {
			return err
		}
	}
}

func (s *Scheduler) prune(ctx context.Context, provider RosterProvider) {
	if s.opts.RetentionDays <= 0 {
		return
	}
	pruner, ok := provider.(storage.Pruner)
	if !ok {
		return
	}

	cutoff := s.now().AddDate(0, 0, -s.opts.RetentionDays)
	n, err := pruner.PruneSamples(context.WithoutCancel(ctx), cutoff)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to prune old samples")
		return
	}
	if n > 0 {
		s.log.Info().Int64("deleted", n).Time("older_than", cutoff).Msg("old samples pruned")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
