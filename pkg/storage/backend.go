// Package storage abstrae dónde se persisten impresoras y muestras de telemetría:
// una base local embebida o la API cloud con buffer offline
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asaavedra/printer-monitor/pkg/telemetry"
)

var (
	// ErrBackendUnhealthy indica que el backend no respondió al health check
	ErrBackendUnhealthy = errors.New("storage backend unhealthy")

	// ErrRegistrationRejected indica que el servicio rechazó el alta (p.ej. límite de licencia)
	ErrRegistrationRejected = errors.New("printer registration rejected")

	// ErrPrinterNotFound indica una muestra para una impresora inexistente
	ErrPrinterNotFound = errors.New("printer not found")
)

// ConnectionStatus es el último resultado de sondeo conocido de una impresora
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
	StatusUnknown      ConnectionStatus = "unknown"
)

// Printer es una impresora registrada. Es única por (DeviceID, IP).
type Printer struct {
	ID               int64            `json:"id" yaml:"id"`
	DeviceID         int64            `json:"device_id" yaml:"device_id"`
	IP               string           `json:"ip" yaml:"ip"`
	Name             string           `json:"name" yaml:"name"`
	Location         string           `json:"location,omitempty" yaml:"location,omitempty"`
	Model            string           `json:"model,omitempty" yaml:"model,omitempty"`
	Manufacturer     string           `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	SerialNumber     string           `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connection_status" yaml:"connection_status"`
	LastSeenAt       *time.Time       `json:"last_seen_at,omitempty" yaml:"last_seen_at,omitempty"`
}

// Pending indica un alta encolada que el servicio remoto aún no confirmó
func (p Printer) Pending() bool {
	return p.ID == 0
}

// PrinterRegistration son los datos de alta de una impresora descubierta
type PrinterRegistration struct {
	IP           string `json:"ip"`
	Name         string `json:"name"`
	Location     string `json:"location,omitempty"`
	Model        string `json:"model,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// Validate comprueba los campos obligatorios del alta
func (r PrinterRegistration) Validate() error {
	if r.IP == "" {
		return errors.New("registration without ip")
	}
	if r.Name == "" {
		return errors.New("registration without name")
	}
	return nil
}

// Backend es el contrato común de los backends de almacenamiento.
// Las implementaciones son seguras para uso concurrente.
type Backend interface {
	HealthCheck(ctx context.Context) bool
	GetPrinters(ctx context.Context) ([]Printer, error)
	GetOrCreatePrinter(ctx context.Context, reg PrinterRegistration) (*Printer, error)
	WriteSample(ctx context.Context, sample telemetry.TelemetrySample) error
	Close() error
}

// StatusRecorder lo implementan los backends que guardan el estado de conexión
type StatusRecorder interface {
	RecordStatus(ctx context.Context, printerID int64, status ConnectionStatus, at time.Time) error
}

// Pruner lo implementan los backends que aplican retención de muestras
type Pruner interface {
	PruneSamples(ctx context.Context, olderThan time.Time) (int64, error)
}

// WriteError agrega contexto a un fallo de escritura
type WriteError struct {
	Backend   string // local, cloud
	Op        string // register, sample
	PrinterID int64
	Status    int // código HTTP si aplica
	Err       error
	retryable bool
}

// Error implementa la interfaz error
func (we *WriteError) Error() string {
	if we.Status != 0 {
		return fmt.Sprintf("[%s] %s failed for printer %d (HTTP %d): %v", we.Backend, we.Op, we.PrinterID, we.Status, we.Err)
	}
	return fmt.Sprintf("[%s] %s failed for printer %d: %v", we.Backend, we.Op, we.PrinterID, we.Err)
}

func (we *WriteError) Unwrap() error {
	return we.Err
}

// Retryable indica si reintentar más tarde puede tener éxito
func (we *WriteError) Retryable() bool {
	return we.retryable
}

// IsRetryable reporta si err es un WriteError transitorio
func IsRetryable(err error) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Retryable()
}
