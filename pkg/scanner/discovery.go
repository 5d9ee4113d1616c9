// Package scanner descubre impresoras SNMP en una subred
package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/asaavedra/printer-monitor/pkg/detector"
	"github.com/asaavedra/printer-monitor/pkg/snmp"
)

// DefaultMaxConcurrency es el número de sondeos simultáneos por defecto
const DefaultMaxConcurrency = 20

// Unknown se usa cuando el dispositivo no informa nombre o modelo
const Unknown = "Unknown"

// Identifier obtiene la identidad SNMP de una IP
type Identifier interface {
	Identify(ctx context.Context, ip string) (*snmp.DeviceInfo, error)
}

// DiscoveredDevice es un dispositivo que respondió durante un escaneo
type DiscoveredDevice struct {
	IP            string            `json:"ip" yaml:"ip"`
	Name          string            `json:"name" yaml:"name"`
	Model         string            `json:"model" yaml:"model"`
	Manufacturer  string            `json:"manufacturer" yaml:"manufacturer"`
	SerialNumber  string            `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	Location      string            `json:"location,omitempty" yaml:"location,omitempty"`
	RawAttributes map[string]string `json:"raw_attributes" yaml:"raw_attributes"`
	ResponseTime  time.Duration     `json:"response_time" yaml:"response_time"`
}

// Report es el resultado de un escaneo, en orden de finalización
type Report struct {
	Target       string             `json:"target" yaml:"target"`
	Devices      []DiscoveredDevice `json:"devices" yaml:"devices"`
	HostsScanned int                `json:"hosts_scanned" yaml:"hosts_scanned"`
	StartedAt    time.Time          `json:"started_at" yaml:"started_at"`
	Duration     time.Duration      `json:"duration" yaml:"duration"`
}

// Options configura el scanner
type Options struct {
	MaxConcurrency int
	MaxHosts       int
}

// Scanner ejecuta escaneos SNMP en paralelo con concurrencia acotada.
// No guarda estado entre escaneos.
type Scanner struct {
	prober Identifier
	opts   Options
	log    zerolog.Logger
}

// New crea un scanner
func New(prober Identifier, opts Options, log zerolog.Logger) *Scanner {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.MaxHosts <= 0 {
		opts.MaxHosts = DefaultMaxHosts
	}
	return &Scanner{prober: prober, opts: opts, log: log}
}

// Scan expande el objetivo y sondea cada host. Solo devuelve error si el
// objetivo no se puede interpretar; los hosts que fallan se omiten.
func (s *Scanner) Scan(ctx context.Context, target string) (*Report, error) {
	ips, err := ExpandTarget(target, s.opts.MaxHosts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Target:       target,
		Devices:      make([]DiscoveredDevice, 0),
		HostsScanned: len(ips),
		StartedAt:    time.Now(),
	}

	s.log.Info().Str("target", target).Int("hosts", len(ips)).Int("concurrency", s.opts.MaxConcurrency).Msg("scan started")

	resultsChan := make(chan DiscoveredDevice, len(ips))

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrency)

	for _, ip := range ips {
		g.Go(func() error {
			if dev, ok := s.probeIP(ctx, ip); ok {
				resultsChan <- dev
			}
			return nil
		})
	}

	_ = g.Wait()
	close(resultsChan)

	seen := make(map[string]struct{}, len(ips))
	for dev := range resultsChan {
		if _, dup := seen[dev.IP]; dup {
			continue
		}
		seen[dev.IP] = struct{}{}
		report.Devices = append(report.Devices, dev)
	}

	report.Duration = time.Since(report.StartedAt)

	s.log.Info().Str("target", target).Int("found", len(report.Devices)).
		Dur("duration", report.Duration).Msg("scan completed")

	return report, nil
}

// probeIP prueba un IP individual
func (s *Scanner) probeIP(ctx context.Context, ip string) (DiscoveredDevice, bool) {
	info, err := s.prober.Identify(ctx, ip)
	if err != nil {
		if errors.Is(err, snmp.ErrUnreachable) {
			s.log.Debug().Str("ip", ip).Err(err).Msg("host did not respond")
		} else {
			s.log.Warn().Str("ip", ip).Err(err).Msg("invalid snmp response")
		}
		return DiscoveredDevice{}, false
	}

	dev := DiscoveredDevice{
		IP:            ip,
		Name:          orUnknown(info.SysName),
		Model:         orUnknown(info.Model),
		Manufacturer:  detector.Brand(info.SysDescr, info.Model),
		SerialNumber:  info.SerialNumber,
		Location:      info.Location,
		RawAttributes: info.Attributes,
		ResponseTime:  info.ResponseTime,
	}
	if dev.RawAttributes == nil {
		dev.RawAttributes = map[string]string{}
	}

	return dev, true
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
