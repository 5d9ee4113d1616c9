package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PrinterState es lo último que se supo de los contadores de una impresora
type PrinterState struct {
	LastPollAt time.Time `json:"last_poll_at"`
	TotalPages int64     `json:"total_pages"`
}

// StateManager maneja la persistencia de estado por impresora
type StateManager struct {
	stateDir string
}

// NewStateManager crea un nuevo gestor de estado
func NewStateManager(stateDir string) (*StateManager, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &StateManager{stateDir: stateDir}, nil
}

// LoadState carga el estado anterior de una impresora; nil en el primer poll
func (sm *StateManager) LoadState(printerID int64) (*PrinterState, error) {
	data, err := os.ReadFile(sm.getStateFilename(printerID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state PrinterState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}

	return &state, nil
}

// SaveState guarda el estado actual de una impresora (se sobrescribe)
func (sm *StateManager) SaveState(printerID int64, totalPages int64, at time.Time) error {
	data, err := json.MarshalIndent(PrinterState{LastPollAt: at.UTC(), TotalPages: totalPages}, "", "  ")
	if err != nil {
		return err
	}

	filename := sm.getStateFilename(printerID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

// PageDelta compara el contador actual con el último guardado, sin modificarlo.
// delta es nil en el primer poll o si hubo reset; reset indica que el contador bajó.
func (sm *StateManager) PageDelta(printerID int64, totalPages int64) (delta *int64, reset bool, err error) {
	previous, err := sm.LoadState(printerID)
	if err != nil || previous == nil {
		return nil, false, err
	}

	if totalPages < previous.TotalPages {
		return nil, true, nil
	}
	d := totalPages - previous.TotalPages
	return &d, false, nil
}

// getStateFilename retorna la ruta del archivo de estado para una impresora
func (sm *StateManager) getStateFilename(printerID int64) string {
	return filepath.Join(sm.stateDir, fmt.Sprintf("printer_%d.json", printerID))
}
