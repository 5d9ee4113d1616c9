// Command proxy monitorea una flota de impresoras por SNMP y guarda la
// telemetría en una base local o en la API cloud.
//
// Uso:
//
//	proxy [--config file] once
//	proxy [--config file] loop [--interval 5m]
//	proxy [--config file] discover [CIDR] [--register] [--location "Auto-discovered"] [--output report.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/asaavedra/printer-monitor/pkg/config"
	"github.com/asaavedra/printer-monitor/pkg/logger"
	"github.com/asaavedra/printer-monitor/pkg/snmp"
)

const (
	exitOK    = 0
	exitError = 1
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app agrupa lo que comparten los subcomandos
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	prober *snmp.Prober
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	name  string
	usage string
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, a *app, fs *pflag.FlagSet) int
}

var commands = []command{
	{name: "once", usage: "ejecuta un ciclo de monitoreo y termina", flags: onceFlags, run: runOnce},
	{name: "loop", usage: "monitorea en bucle hasta SIGINT/SIGTERM", flags: loopFlags, run: runLoop},
	{name: "discover", usage: "escanea una subred y opcionalmente registra las impresoras", flags: discoverFlags, run: runDiscover},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := pflag.NewFlagSet("proxy", pflag.ContinueOnError)
	root.SetOutput(stderr)
	root.SetInterspersed(false)
	configPath := root.String("config", config.DefaultFile, "Archivo de configuración YAML")
	root.Usage = func() { printUsage(stderr, root) }

	if err := root.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	if root.NArg() == 0 {
		printUsage(stderr, root)
		return exitError
	}

	name := root.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "❌ Comando desconocido: %s\n\n", name)
		printUsage(stderr, root)
		return exitError
	}

	fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	commonFlags(fs)
	cmd.flags(fs)
	if err := fs.Parse(root.Args()[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "❌ Error de configuración: %v\n", err)
		return exitError
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "❌ Error de configuración: %v\n", err)
		return exitError
	}

	a := &app{
		cfg: cfg,
		log: log,
		prober: snmp.NewProber(snmp.Options{
			Community: cfg.SNMP.Community,
			Version:   cfg.SNMP.Version,
			Port:      uint16(cfg.SNMP.Port),
			Timeout:   cfg.SNMP.Timeout,
		}),
		stdout: stdout,
		stderr: stderr,
	}

	return cmd.run(ctx, a, fs)
}

func commonFlags(fs *pflag.FlagSet) {
	fs.String("community", "public", "Comunidad SNMP")
	fs.Duration("timeout", 0, "Timeout SNMP por dispositivo (ej: 2s)")
	fs.String("mode", "local", "Almacenamiento: local o cloud")
	fs.String("log-level", "info", "Nivel de log (debug, info, warn, error)")
	fs.Bool("debug", false, "Fuerza nivel debug")
}

func printUsage(w io.Writer, root *pflag.FlagSet) {
	fmt.Fprintln(w, "Uso:")
	fmt.Fprintln(w, "  proxy [--config file] <comando> [opciones]")
	fmt.Fprintln(w, "\nComandos:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(w, "\nOpciones globales:")
	fmt.Fprint(w, root.FlagUsages())
}
