// Package telemetry define la muestra de telemetría que se persiste por impresora
package telemetry

import (
	"fmt"
	"time"
)

// TonerStatus es la clasificación del nivel de tóner
type TonerStatus string

const (
	TonerOK      TonerStatus = "OK"
	TonerLow     TonerStatus = "Low"
	TonerEmpty   TonerStatus = "Empty"
	TonerUnknown TonerStatus = "Unknown"
)

// Valid reporta si s es uno de los estados conocidos
func (s TonerStatus) Valid() bool {
	switch s {
	case TonerOK, TonerLow, TonerEmpty, TonerUnknown:
		return true
	}
	return false
}

// TelemetrySample es el estado de UNA impresora en un instante.
// Es inmutable una vez escrita.
type TelemetrySample struct {
	PrinterID        int64          `json:"printer_id"`
	Timestamp        time.Time      `json:"timestamp"`
	TotalPages       *int64         `json:"total_pages"`        // 14372 (contador acumulativo)
	TonerLevelPct    *int           `json:"toner_level_pct"`    // 0-100, nil si el equipo no lo informa
	TonerStatus      TonerStatus    `json:"toner_status"`       // "OK", "Low", "Empty", "Unknown"
	DrumLevelPct     *int           `json:"drum_level_pct"`     // 0-100
	DeviceStatusCode *int           `json:"device_status"`      // hrDeviceStatus crudo
	Model            string         `json:"model,omitempty"`    // modelo informado en el momento de la muestra
	Extra            map[string]any `json:"additional_data,omitempty"`
}

// RangeError indica un nivel fuera de [0,100]
type RangeError struct {
	Field string
	Value int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s out of range [0,100]: %d", e.Field, e.Value)
}

// Validate comprueba los invariantes de la muestra antes de persistirla
func (s TelemetrySample) Validate() error {
	if s.PrinterID <= 0 {
		return fmt.Errorf("invalid printer id %d", s.PrinterID)
	}
	if s.TonerLevelPct != nil && (*s.TonerLevelPct < 0 || *s.TonerLevelPct > 100) {
		return &RangeError{Field: "toner_level_pct", Value: *s.TonerLevelPct}
	}
	if s.DrumLevelPct != nil && (*s.DrumLevelPct < 0 || *s.DrumLevelPct > 100) {
		return &RangeError{Field: "drum_level_pct", Value: *s.DrumLevelPct}
	}
	if s.TonerStatus != "" && !s.TonerStatus.Valid() {
		return fmt.Errorf("invalid toner status %q", s.TonerStatus)
	}
	return nil
}
