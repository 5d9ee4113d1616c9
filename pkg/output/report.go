// Package output exporta y muestra los reportes de descubrimiento
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/asaavedra/printer-monitor/pkg/scanner"
	"github.com/asaavedra/printer-monitor/pkg/serializer"
)

// ErrUnsupportedFormat indica una extensión de archivo que no es .json ni .yaml
var ErrUnsupportedFormat = errors.New("unsupported report format")

// ScanSummary contiene el resumen del escaneo
type ScanSummary struct {
	Target              string         `json:"target" yaml:"target"`
	StartedAt           time.Time      `json:"started_at" yaml:"started_at"`
	Duration            string         `json:"duration" yaml:"duration"`
	HostsScanned        int            `json:"hosts_scanned" yaml:"hosts_scanned"`
	Found               int            `json:"found" yaml:"found"`
	SuccessRate         float64        `json:"success_rate" yaml:"success_rate"`
	AverageResponseTime float64        `json:"avg_response_time_ms" yaml:"avg_response_time_ms"`
	ByBrand             map[string]int `json:"by_brand" yaml:"by_brand"`
}

// Document es lo que se escribe en disco
type Document struct {
	ScanInfo ScanSummary                `json:"scan_info" yaml:"scan_info"`
	Devices  []scanner.DiscoveredDevice `json:"devices" yaml:"devices"`
}

// Summarize calcula el resumen de un reporte
func Summarize(r *scanner.Report) ScanSummary {
	summary := ScanSummary{
		Target:       r.Target,
		StartedAt:    r.StartedAt,
		Duration:     fmt.Sprintf("%.1fs", r.Duration.Seconds()),
		HostsScanned: r.HostsScanned,
		Found:        len(r.Devices),
		ByBrand:      make(map[string]int),
	}

	var total time.Duration
	for _, d := range r.Devices {
		summary.ByBrand[d.Manufacturer]++
		total += d.ResponseTime
	}

	if len(r.Devices) > 0 {
		summary.AverageResponseTime = float64(total.Milliseconds()) / float64(len(r.Devices))
	}
	if r.HostsScanned > 0 {
		summary.SuccessRate = float64(len(r.Devices)) / float64(r.HostsScanned) * 100.0
	}

	return summary
}

// WriteReport escribe el reporte en path; el formato sale de la extensión
func WriteReport(path string, r *scanner.Report) error {
	doc := Document{ScanInfo: Summarize(r), Devices: r.Devices}
	if doc.Devices == nil {
		doc.Devices = []scanner.DiscoveredDevice{}
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = serializer.NewSerializer().Serialize(doc)
		data = append(data, '\n')
	case ".yaml", ".yml":
		data, err = yaml.Marshal(doc)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("error serializando reporte: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creando directorio de salida: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error escribiendo archivo: %w", err)
	}
	return nil
}

// PrintReport escribe un reporte legible en w
func PrintReport(w io.Writer, r *scanner.Report) {
	summary := Summarize(r)

	fmt.Fprintf(w, "\n✅ ESCANEO COMPLETADO\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Objetivo:               %s\n", summary.Target)
	fmt.Fprintf(w, "Tiempo total:           %s\n", summary.Duration)
	fmt.Fprintf(w, "IPs escaneadas:         %d\n", summary.HostsScanned)
	fmt.Fprintf(w, "Impresoras encontradas: %d\n", summary.Found)
	fmt.Fprintf(w, "Tasa de éxito:          %.1f%%\n", summary.SuccessRate)
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════════\n")

	if len(r.Devices) == 0 {
		return
	}

	brands := make([]string, 0, len(summary.ByBrand))
	for b := range summary.ByBrand {
		brands = append(brands, b)
	}
	sort.Strings(brands)

	fmt.Fprintf(w, "\n📦 Impresoras por marca:\n")
	for _, b := range brands {
		fmt.Fprintf(w, "   %-20s: %d\n", b, summary.ByBrand[b])
	}

	fmt.Fprintf(w, "\n📋 Detalle:\n")
	for i, d := range r.Devices {
		fmt.Fprintf(w, "[%d] %-15s %s - %s (%s)\n", i+1, d.IP, d.Manufacturer, d.Model, d.Name)
		if d.SerialNumber != "" {
			fmt.Fprintf(w, "    Serial:           %s\n", d.SerialNumber)
		}
		if d.Location != "" {
			fmt.Fprintf(w, "    Ubicación:        %s\n", d.Location)
		}
		fmt.Fprintf(w, "    Tiempo respuesta: %dms\n", d.ResponseTime.Milliseconds())
	}
}
