package normalizer

import "fmt"

// StatusCode decodifica códigos de estado SNMP
type StatusCode struct {
	Code    int    `json:"code"`
	Meaning string `json:"meaning"` // "running", "warning", "down", ...
	Details string `json:"details,omitempty"`
}

// DecodeDeviceStatus decodifica hrDeviceStatus (HOST-RESOURCES-MIB)
func DecodeDeviceStatus(code *int) *StatusCode {
	if code == nil {
		return nil
	}

	var meaning, details string
	switch *code {
	case 1:
		meaning, details = "unknown", "Device state is unknown"
	case 2:
		meaning, details = "running", "Device is running"
	case 3:
		meaning, details = "warning", "Device reports a warning condition"
	case 4:
		meaning, details = "testing", "Device is in testing mode"
	case 5:
		meaning, details = "down", "Device is down"
	default:
		meaning, details = "unknown", fmt.Sprintf("Unknown state code: %d", *code)
	}

	return &StatusCode{Code: *code, Meaning: meaning, Details: details}
}

// DecodePrinterStatus decodifica hrPrinterStatus (HOST-RESOURCES-MIB)
func DecodePrinterStatus(code *int) *StatusCode {
	if code == nil {
		return nil
	}

	var meaning, details string
	switch *code {
	case 1:
		meaning, details = "other", "Printer state is other"
	case 2:
		meaning, details = "unknown", "Printer state is unknown"
	case 3:
		meaning, details = "idle", "Printer is idle"
	case 4:
		meaning, details = "printing", "Printer is printing"
	case 5:
		meaning, details = "warmup", "Printer is warming up"
	default:
		meaning, details = "unknown", fmt.Sprintf("Unknown state code: %d", *code)
	}

	return &StatusCode{Code: *code, Meaning: meaning, Details: details}
}
