package snmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrUnreachable indica que el dispositivo no respondió dentro del timeout
	ErrUnreachable = errors.New("device unreachable")

	// ErrProtocol indica una respuesta SNMP malformada o inválida
	ErrProtocol = errors.New("snmp protocol error")
)

// ProbeError agrega contexto (IP y operación) a un fallo de sondeo
type ProbeError struct {
	IP        string
	Operation string // identify, telemetry
	Kind      error  // ErrUnreachable o ErrProtocol
	Err       error
}

// Error implementa la interfaz error
func (pe *ProbeError) Error() string {
	if pe.Err == nil {
		return fmt.Sprintf("%s %s: %v", pe.Operation, pe.IP, pe.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", pe.Operation, pe.IP, pe.Kind, pe.Err)
}

// Unwrap permite errors.Is(err, ErrUnreachable) y errors.Is(err, ErrProtocol)
func (pe *ProbeError) Unwrap() []error {
	if pe.Err == nil {
		return []error{pe.Kind}
	}
	return []error{pe.Kind, pe.Err}
}

// IsUnreachable reporta si err es un fallo de alcance (timeout, rechazo)
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

func unreachable(ip, op string, err error) error {
	return &ProbeError{IP: ip, Operation: op, Kind: ErrUnreachable, Err: err}
}

func protocolError(ip, op string, err error) error {
	return &ProbeError{IP: ip, Operation: op, Kind: ErrProtocol, Err: err}
}

// classify convierte un error de transporte de gosnmp en un ProbeError
func classify(ip, op string, err error) error {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return err
	}

	if isTransportFailure(err) {
		return unreachable(ip, op, err)
	}
	return protocolError(ip, op, err)
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// gosnmp no envuelve sus timeouts con %w
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "refused") || strings.Contains(msg, "no route")
}
