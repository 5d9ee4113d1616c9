// Package normalizer convierte lecturas SNMP crudas en valores persistibles
package normalizer

import (
	"math"

	"github.com/asaavedra/printer-monitor/pkg/telemetry"
)

// DefaultLowThreshold es el porcentaje a partir del cual el tóner es "Low"
const DefaultLowThreshold = 20

// LevelPercent convierte un nivel de consumible en porcentaje dentro de [0,100].
// Los valores negativos de Printer-MIB (-1 other, -2 unknown, -3 some remaining)
// no son medibles y devuelven nil. Si la capacidad máxima es conocida y positiva,
// el nivel se expresa relativo a ella.
func LevelPercent(level, maxCapacity *int64) *int {
	if level == nil || *level < 0 {
		return nil
	}

	pct := float64(*level)
	if maxCapacity != nil && *maxCapacity > 0 && *maxCapacity != 100 {
		// en float64 para que contadores enormes no desborden al multiplicar
		pct = math.Round(pct * 100 / float64(*maxCapacity))
	}

	v := clamp(int(min(pct, 1000)))
	return &v
}

// ClampPercent fuerza un porcentaje ya calculado dentro de [0,100]
func ClampPercent(v *int) *int {
	if v == nil {
		return nil
	}
	c := clamp(*v)
	return &c
}

// TonerStatus clasifica el nivel de tóner: Empty en 0, Low hasta el umbral
// inclusive, OK por encima y Unknown sin dato
func TonerStatus(pct *int, lowThreshold int) telemetry.TonerStatus {
	switch {
	case pct == nil:
		return telemetry.TonerUnknown
	case *pct <= 0:
		return telemetry.TonerEmpty
	case *pct <= lowThreshold:
		return telemetry.TonerLow
	default:
		return telemetry.TonerOK
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
