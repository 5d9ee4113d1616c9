// Package queue implementa la cola FIFO en disco de escrituras pendientes hacia la nube
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asaavedra/printer-monitor/pkg/serializer"
)

// RejectedDir es el subdirectorio de entradas que el servicio rechazó
const RejectedDir = "rejected"

// ErrEmptyPayload indica un Append sin datos
var ErrEmptyPayload = errors.New("empty payload")

// Kind es el tipo de escritura encolada
type Kind string

const (
	KindSample   Kind = "sample"
	KindRegister Kind = "register"
)

// Entry es una escritura pendiente. ID se usa como Idempotency-Key.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	Seq        uint64          `json:"seq"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`

	file string
}

// Queue guarda una entrada por archivo con naming {seq}_{uuid}.json; el orden
// lexicográfico de los nombres es el orden de llegada
type Queue struct {
	dir   string
	mu    sync.Mutex
	seq   uint64
	codec *serializer.Serializer
}

// Open abre (o crea) la cola en dir y recupera la secuencia tras un reinicio
func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Join(dir, RejectedDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	q := &Queue{dir: dir, codec: serializer.NewSerializer()}

	names, err := q.list()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if seq, ok := parseSeq(name); ok && seq > q.seq {
			q.seq = seq
		}
	}

	// restos de escrituras interrumpidas
	tmps, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	for _, tmp := range tmps {
		_ = os.Remove(tmp)
	}

	return q, nil
}

// Dir devuelve el directorio de la cola
func (q *Queue) Dir() string {
	return q.dir
}

// Append encola payload al final de la cola con un ID nuevo
func (q *Queue) Append(kind Kind, payload []byte) (*Entry, error) {
	return q.AppendID(uuid.New(), kind, payload)
}

// AppendID encola payload con un ID ya usado en un envío directo fallido,
// así el servicio puede deduplicar por Idempotency-Key
func (q *Queue) AppendID(id uuid.UUID, kind Kind, payload []byte) (*Entry, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	e := &Entry{
		ID:         id,
		Seq:        q.seq + 1,
		Kind:       kind,
		Payload:    json.RawMessage(payload),
		EnqueuedAt: time.Now().UTC(),
	}
	e.file = fmt.Sprintf("%020d_%s.json", e.Seq, e.ID)

	if err := q.write(e); err != nil {
		return nil, err
	}
	q.seq = e.Seq

	return e, nil
}

// Peek devuelve la entrada más antigua sin quitarla; nil si la cola está vacía
func (q *Queue) Peek() (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.list()
	if err != nil || len(names) == 0 {
		return nil, err
	}

	return q.read(names[0])
}

// Len cuenta las entradas pendientes
func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.list()
	return len(names), err
}

// Remove quita una entrada ya aceptada por el servicio
func (q *Queue) Remove(e *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := os.Remove(filepath.Join(q.dir, e.file))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove queue entry %d: %w", e.Seq, err)
	}
	return nil
}

// MarkFailed registra un intento fallido sin mover la entrada de su posición
func (q *Queue) MarkFailed(e *Entry, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	return q.write(e)
}

// Reject mueve la entrada a rejected/ para inspección manual
func (q *Queue) Reject(e *Entry, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	if err := q.write(e); err != nil {
		return err
	}

	src := filepath.Join(q.dir, e.file)
	dst := filepath.Join(q.dir, RejectedDir, e.file)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("reject queue entry %d: %w", e.Seq, err)
	}
	return nil
}

// Rejected cuenta las entradas rechazadas
func (q *Queue) Rejected() (int, error) {
	matches, err := filepath.Glob(filepath.Join(q.dir, RejectedDir, "*.json"))
	return len(matches), err
}

// write guarda la entrada vía archivo temporal + rename
func (q *Queue) write(e *Entry) error {
	data, err := q.codec.Serialize(e)
	if err != nil {
		return err
	}

	final := filepath.Join(q.dir, e.file)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write queue entry %d: %w", e.Seq, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit queue entry %d: %w", e.Seq, err)
	}
	return nil
}

func (q *Queue) read(name string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(q.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read queue entry %s: %w", name, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode queue entry %s: %w", name, err)
	}
	e.file = name
	return &e, nil
}

// list devuelve los archivos pendientes ordenados por secuencia
func (q *Queue) list() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	var names []string
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		if _, ok := parseSeq(de.Name()); ok {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func parseSeq(name string) (uint64, bool) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(prefix, 10, 64)
	return seq, err == nil
}
