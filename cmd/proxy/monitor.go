package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/asaavedra/printer-monitor/pkg/collector"
	"github.com/asaavedra/printer-monitor/pkg/logger"
	"github.com/asaavedra/printer-monitor/pkg/scheduler"
	"github.com/asaavedra/printer-monitor/pkg/storage"
)

var rule = strings.Repeat("═", 63)

func onceFlags(*pflag.FlagSet) {}

func loopFlags(fs *pflag.FlagSet) {
	fs.Duration("interval", 0, "Intervalo entre ciclos (ej: 5m)")
}

func printBanner(w io.Writer, a *app) {
	cfg := a.cfg

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "🖨️  PRINTER MONITOR - PROXY")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Hora:               %s\n", time.Now().Format(time.DateTime))
	fmt.Fprintf(w, "Modo:               %s\n", cfg.Storage.Mode)
	fmt.Fprintf(w, "Comunidad SNMP:     %s\n", cfg.SNMP.Community)
	fmt.Fprintf(w, "Timeout SNMP:       %s\n", cfg.SNMP.Timeout)
	fmt.Fprintf(w, "Intervalo:          %s\n", cfg.Monitor.Interval)

	if cfg.Storage.Mode == storage.ModeCloud {
		buffer := "Deshabilitado"
		if cfg.Storage.Cloud.EnableBuffer {
			buffer = "Habilitado"
		}
		fmt.Fprintf(w, "API cloud:          %s\n", cfg.Storage.Cloud.BaseURL)
		fmt.Fprintf(w, "API key:            %s\n", cfg.MaskedAPIKey())
		fmt.Fprintf(w, "Buffer local:       %s\n", buffer)
	} else {
		fmt.Fprintf(w, "Base local:         %s\n", cfg.Storage.Local.DSN)
	}
	fmt.Fprintln(w, rule)
}

func (a *app) newBackend(ctx context.Context) (storage.Backend, error) {
	return storage.New(ctx, a.cfg.Storage, logger.WithComponent(a.log, "storage"))
}

// openBackend crea el backend indicado por storage.mode
func openBackend(ctx context.Context, a *app) (storage.Backend, bool) {
	backend, err := a.newBackend(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "❌ No se pudo inicializar el almacenamiento: %v\n", err)
		return nil, false
	}
	return backend, true
}

func newScheduler(a *app, backend storage.Backend, onCycle func(scheduler.CycleSummary)) (*scheduler.Scheduler, error) {
	col, err := collector.New(a.prober, backend, collector.Options{
		MaxConcurrency: a.cfg.Monitor.MaxConcurrency,
		LowThreshold:   a.cfg.Monitor.LowTonerThreshold,
		StateDir:       a.cfg.Monitor.StateDir,
	}, logger.WithComponent(a.log, "collector"))
	if err != nil {
		return nil, err
	}

	opts := schedulerOptions(a)
	opts.OnCycle = onCycle
	return scheduler.New(col, opts, logger.WithComponent(a.log, "scheduler")), nil
}

func schedulerOptions(a *app) scheduler.Options {
	return scheduler.Options{
		Interval:       a.cfg.Monitor.Interval,
		StartupBackoff: a.cfg.Monitor.StartupBackoff,
		StartupRetries: a.cfg.Monitor.StartupRetries,
		RetentionDays:  a.cfg.Monitor.RetentionDays,
	}
}

func printSummary(w io.Writer, s scheduler.CycleSummary) {
	fmt.Fprintf(w, "\n[Ciclo %d] %s\n", s.Cycle, s.StartedAt.Format(time.DateTime))
	switch {
	case s.Err != nil:
		fmt.Fprintf(w, "❌ No se pudo obtener el listado de impresoras: %v\n", s.Err)
	case s.Total == 0:
		fmt.Fprintln(w, "⏸  Aún no hay impresoras registradas. Se monitorearán automáticamente al registrarse.")
	default:
		fmt.Fprintf(w, "✓ %d/%d impresoras OK en %.1fs\n", s.Succeeded, s.Total, s.Duration.Seconds())
		if s.Skipped > 0 {
			fmt.Fprintf(w, "   ⏳ %d sin sondear (pendientes de registro o repetidas)\n", s.Skipped)
		}
		for _, f := range s.Failed {
			fmt.Fprintf(w, "   ✗ [%d] %-15s %s: %s\n", f.ID, f.IP, f.Stage, f.Reason)
		}
	}
}

func runOnce(ctx context.Context, a *app, _ *pflag.FlagSet) int {
	printBanner(a.stdout, a)

	backend, ok := openBackend(ctx, a)
	if !ok {
		return exitError
	}
	defer backend.Close()

	fmt.Fprintln(a.stdout, "Verificando el almacenamiento...")
	if !backend.HealthCheck(ctx) {
		fmt.Fprintln(a.stdout, "✗ El almacenamiento no responde")
		return exitError
	}
	fmt.Fprintln(a.stdout, "✓ Almacenamiento OK")

	printers, err := backend.GetPrinters(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "❌ Error obteniendo impresoras: %v\n", err)
		return exitError
	}

	if len(printers) == 0 {
		fmt.Fprintln(a.stdout, "⚠️  No hay impresoras registradas.")
		fmt.Fprintln(a.stdout, "Para agregar impresoras:")
		fmt.Fprintln(a.stdout, "  1. Ejecutar el descubrimiento: proxy discover 192.168.1.0/24 --register")
		fmt.Fprintln(a.stdout, "  2. O registrarlas manualmente en la base o en la nube")
		return exitOK
	}
	fmt.Fprintf(a.stdout, "✓ %d impresora(s) para monitorear\n", len(printers))

	sched, err := newScheduler(a, backend, nil)
	if err != nil {
		fmt.Fprintf(a.stderr, "❌ %v\n", err)
		return exitError
	}

	summary := sched.RunOnce(ctx, printers)
	printSummary(a.stdout, summary)
	return exitOK
}

func runLoop(ctx context.Context, a *app, _ *pflag.FlagSet) int {
	printBanner(a.stdout, a)

	// apertura y health check se reintentan juntos: una base que todavía
	// está arrancando no es fatal
	backend, err := scheduler.Connect(ctx, a.newBackend, schedulerOptions(a), logger.WithComponent(a.log, "scheduler"))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(a.stdout, "Monitoreo cancelado antes de iniciar")
			return exitOK
		}
		fmt.Fprintf(a.stderr, "❌ No se pudo inicializar el almacenamiento: %v\n", err)
		return exitError
	}
	defer backend.Close()

	sched, err := newScheduler(a, backend, func(s scheduler.CycleSummary) {
		printSummary(a.stdout, s)
		fmt.Fprintf(a.stdout, "Próximo ciclo en %s...\n", a.cfg.Monitor.Interval)
	})
	if err != nil {
		fmt.Fprintf(a.stderr, "❌ %v\n", err)
		return exitError
	}

	fmt.Fprintf(a.stdout, "▶️  Monitoreo continuo cada %s (Ctrl+C para detener)\n", a.cfg.Monitor.Interval)

	completed, err := sched.RunLoop(ctx, backend)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(a.stderr, "✗ %v\n", err)
		return exitError
	}

	fmt.Fprintln(a.stdout, "\n"+rule)
	fmt.Fprintln(a.stdout, "MONITOREO DETENIDO")
	fmt.Fprintln(a.stdout, rule)
	fmt.Fprintf(a.stdout, "Ciclos completados: %d\n", completed)
	return exitOK
}
