package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/asaavedra/printer-monitor/pkg/logger"
	"github.com/asaavedra/printer-monitor/pkg/output"
	"github.com/asaavedra/printer-monitor/pkg/scanner"
	"github.com/asaavedra/printer-monitor/pkg/storage"
)

func discoverFlags(fs *pflag.FlagSet) {
	fs.Bool("register", false, "Registrar las impresoras encontradas")
	fs.String("location", "Auto-discovered", "Ubicación asignada al registrar")
	fs.String("output", "", "Guardar el reporte en un archivo .json o .yaml")
	fs.Int("concurrency", 0, "Máximo de sondeos concurrentes")
}

// registrationFor arma el alta de un dispositivo descubierto; si no informa
// nombre se usa el modelo
func registrationFor(d scanner.DiscoveredDevice, location string) storage.PrinterRegistration {
	name := d.Name
	if name == "" || name == scanner.Unknown {
		name = d.Model
	}
	if name == "" {
		name = scanner.Unknown
	}

	return storage.PrinterRegistration{
		IP:           d.IP,
		Name:         name,
		Location:     location,
		Model:        d.Model,
		Manufacturer: d.Manufacturer,
		SerialNumber: d.SerialNumber,
	}
}

func runDiscover(ctx context.Context, a *app, fs *pflag.FlagSet) int {
	subnet := a.cfg.Discovery.Subnet
	if fs.NArg() > 0 {
		subnet = fs.Arg(0)
	}
	register, _ := fs.GetBool("register")
	outPath, _ := fs.GetString("output")

	fmt.Fprintf(a.stdout, "🔍 Escaneando %s (comunidad %q, %d sondeos en paralelo)\n",
		subnet, a.cfg.SNMP.Community, a.cfg.Discovery.MaxConcurrency)

	sc := scanner.New(a.prober, scanner.Options{
		MaxConcurrency: a.cfg.Discovery.MaxConcurrency,
		MaxHosts:       a.cfg.Discovery.MaxHosts,
	}, logger.WithComponent(a.log, "scanner"))

	report, err := sc.Scan(ctx, subnet)
	if err != nil {
		fmt.Fprintf(a.stderr, "❌ Objetivo inválido: %v\n", err)
		return exitError
	}

	output.PrintReport(a.stdout, report)

	if outPath != "" {
		if err := output.WriteReport(outPath, report); err != nil {
			fmt.Fprintf(a.stderr, "❌ %v\n", err)
			return exitError
		}
		fmt.Fprintf(a.stdout, "\n💾 Reporte guardado en: %s\n", outPath)
	}

	if len(report.Devices) == 0 {
		fmt.Fprintln(a.stdout, "\n❌ No se encontraron dispositivos SNMP en el rango especificado")
		return exitOK
	}

	if !register {
		fmt.Fprintf(a.stdout, "\nPara registrarlas: proxy discover %s --register\n", subnet)
		return exitOK
	}

	return registerDevices(ctx, a, report.Devices)
}

func registerDevices(ctx context.Context, a *app, devices []scanner.DiscoveredDevice) int {
	backend, ok := openBackend(ctx, a)
	if !ok {
		return exitError
	}
	defer backend.Close()

	if !backend.HealthCheck(ctx) {
		fmt.Fprintln(a.stdout, "✗ El almacenamiento no responde")
		return exitError
	}

	fmt.Fprintf(a.stdout, "\n📝 Registrando %d impresora(s) en %q...\n", len(devices), a.cfg.Discovery.Location)

	registered, pending, failed := 0, 0, 0
	for _, d := range devices {
		reg := registrationFor(d, a.cfg.Discovery.Location)

		p, err := backend.GetOrCreatePrinter(ctx, reg)
		switch {
		case errors.Is(err, storage.ErrRegistrationRejected):
			failed++
			fmt.Fprintf(a.stdout, "   ✗ %-15s %s: rechazada por el servicio (límite de impresoras)\n", reg.IP, reg.Name)
		case err != nil:
			failed++
			fmt.Fprintf(a.stdout, "   ✗ %-15s %s: %v\n", reg.IP, reg.Name, err)
		case p.Pending():
			pending++
			fmt.Fprintf(a.stdout, "   ⏳ %-15s %s: en buffer hasta que el servicio responda\n", reg.IP, reg.Name)
		default:
			registered++
			fmt.Fprintf(a.stdout, "   ✓ %-15s %s (ID %d)\n", p.IP, p.Name, p.ID)
		}
	}

	fmt.Fprintf(a.stdout, "\nRegistradas: %d  En buffer: %d  Fallidas: %d\n", registered, pending, failed)
	return exitOK
}
