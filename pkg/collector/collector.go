// Package collector ejecuta una ronda de telemetría sobre el roster de impresoras
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/asaavedra/printer-monitor/pkg/normalizer"
	"github.com/asaavedra/printer-monitor/pkg/snmp"
	"github.com/asaavedra/printer-monitor/pkg/storage"
	"github.com/asaavedra/printer-monitor/pkg/telemetry"
)

// DefaultMaxConcurrency es el número de sondeos simultáneos por defecto
const DefaultMaxConcurrency = 20

// Stage indica en qué paso falló una impresora
type Stage string

const (
	StageProbe Stage = "probe"
	StageWrite Stage = "write"
)

// Prober lee la telemetría cruda de una impresora
type Prober interface {
	ReadTelemetry(ctx context.Context, ip string) (*snmp.Reading, error)
}

// SampleWriter persiste una muestra
type SampleWriter interface {
	WriteSample(ctx context.Context, sample telemetry.TelemetrySample) error
}

// Outcome es el resultado de una impresora en la ronda
type Outcome struct {
	PrinterID int64
	IP        string
	Sample    *telemetry.TelemetrySample
	Err       error
	Stage     Stage // solo si Err != nil
}

// Succeeded indica que la muestra se leyó y se persistió (o quedó en buffer)
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Options configura el collector
type Options struct {
	MaxConcurrency int
	LowThreshold   int    // porcentaje 0-100 a partir del cual el tóner es Low
	StateDir       string // vacío desactiva el cálculo de páginas desde el último poll
}

// Collector sondea el roster con concurrencia acotada
type Collector struct {
	prober Prober
	writer SampleWriter
	opts   Options
	state  *StateManager
	log    zerolog.Logger
	now    func() time.Time
}

// New crea un collector
func New(prober Prober, writer SampleWriter, opts Options, log zerolog.Logger) (*Collector, error) {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}

	c := &Collector{
		prober: prober,
		writer: writer,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}

	if opts.StateDir != "" {
		sm, err := NewStateManager(opts.StateDir)
		if err != nil {
			return nil, err
		}
		c.state = sm
	}

	return c, nil
}

// Collect sondea cada impresora del roster una vez. Nunca falla en conjunto:
// cada impresora produce su propio Outcome, indexado por ID. Las entradas
// pendientes de registro o con ID repetido no se sondean ni producen Outcome.
func (c *Collector) Collect(ctx context.Context, roster []storage.Printer) map[int64]Outcome {
	results := make(map[int64]Outcome, len(roster))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.opts.MaxConcurrency)

	queued := make(map[int64]struct{}, len(roster))
	for _, p := range roster {
		if p.Pending() {
			c.log.Warn().Str("ip", p.IP).Msg("skipping printer pending registration")
			continue
		}
		if _, dup := queued[p.ID]; dup {
			continue
		}
		queued[p.ID] = struct{}{}

		g.Go(func() error {
			out := c.collectOne(ctx, p)
			mu.Lock()
			results[p.ID] = out
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func (c *Collector) collectOne(ctx context.Context, p storage.Printer) Outcome {
	out := Outcome{PrinterID: p.ID, IP: p.IP}
	log := c.log.With().Int64("printer_id", p.ID).Str("ip", p.IP).Logger()

	reading, err := c.prober.ReadTelemetry(ctx, p.IP)
	if err != nil {
		out.Err, out.Stage = err, StageProbe
		log.Warn().Err(err).Msg("telemetry probe failed")
		c.recordFailure(ctx, p, err)
		return out
	}

	sample := c.buildSample(p, reading)
	out.Sample = &sample

	if err := c.writer.WriteSample(ctx, sample); err != nil {
		out.Err, out.Stage = fmt.Errorf("write sample: %w", err), StageWrite
		log.Error().Err(err).Msg("failed to persist sample")
		return out
	}

	// el contador se guarda solo con la muestra persistida, así el delta de
	// una escritura fallida se acumula en la siguiente
	if c.state != nil && sample.TotalPages != nil {
		if err := c.state.SaveState(p.ID, *sample.TotalPages, sample.Timestamp); err != nil {
			log.Warn().Err(err).Msg("could not update counter state")
		}
	}

	log.Debug().Interface("toner", sample.TonerLevelPct).Str("toner_status", string(sample.TonerStatus)).Msg("sample stored")
	return out
}

// buildSample normaliza la lectura cruda
func (c *Collector) buildSample(p storage.Printer, r *snmp.Reading) telemetry.TelemetrySample {
	now := c.now().UTC()

	toner := normalizer.LevelPercent(r.TonerLevel, r.TonerMax)
	sample := telemetry.TelemetrySample{
		PrinterID:        p.ID,
		Timestamp:        now,
		TotalPages:       r.TotalPages,
		TonerLevelPct:    toner,
		TonerStatus:      normalizer.TonerStatus(toner, c.opts.LowThreshold),
		DrumLevelPct:     normalizer.LevelPercent(r.DrumLevel, r.DrumMax),
		DeviceStatusCode: r.DeviceStatus,
		Model:            r.Model,
		Extra: map[string]any{
			"response_time_ms": r.ResponseTime.Milliseconds(),
		},
	}
	if sample.Model == "" {
		sample.Model = p.Model
	}

	if st := normalizer.DecodeDeviceStatus(r.DeviceStatus); st != nil {
		sample.Extra["device_status"] = st.Meaning
	}
	if st := normalizer.DecodePrinterStatus(r.PrinterStatus); st != nil {
		sample.Extra["printer_status"] = st.Meaning
	}
	if r.SerialNumber != "" {
		sample.Extra["serial_number"] = r.SerialNumber
	}
	if r.TonerDescription != "" {
		sample.Extra["toner_description"] = r.TonerDescription
	}
	if r.DrumDescription != "" {
		sample.Extra["drum_description"] = r.DrumDescription
	}
	if r.UptimeTicks != nil {
		sample.Extra["uptime_seconds"] = *r.UptimeTicks / 100
		sample.Extra["uptime"] = formatUptime(*r.UptimeTicks)
	}

	if c.state != nil && r.TotalPages != nil {
		delta, reset, err := c.state.PageDelta(p.ID, *r.TotalPages)
		if err != nil {
			c.log.Warn().Err(err).Int64("printer_id", p.ID).Msg("could not read counter state")
		}
		if delta != nil {
			sample.Extra["pages_since_last_poll"] = *delta
		}
		if reset {
			sample.Extra["counter_reset"] = true
		}
	}

	return sample
}

// recordFailure marca la impresora como desconectada o con error si el
// backend guarda el estado de conexión
func (c *Collector) recordFailure(ctx context.Context, p storage.Printer, probeErr error) {
	rec, ok := c.writer.(storage.StatusRecorder)
	if !ok {
		return
	}

	status := storage.StatusError
	if errors.Is(probeErr, snmp.ErrUnreachable) {
		status = storage.StatusDisconnected
	}

	if err := rec.RecordStatus(ctx, p.ID, status, c.now().UTC()); err != nil {
		c.log.Warn().Err(err).Int64("printer_id", p.ID).Msg("could not record connection status")
	}
}

// formatUptime convierte ticks de SNMP (centésimas de segundo) a formato legible
func formatUptime(ticks int64) string {
	seconds := ticks / 100
	if seconds < 0 {
		return ""
	}

	days := seconds / 86400
	seconds %= 86400
	hours := seconds / 3600
	seconds %= 3600
	minutes := seconds / 60

	return fmt.Sprintf("%d días, %d horas, %d minutos", days, hours, minutes)
}
