package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaavedra/printer-monitor/pkg/telemetry"
)

type attempt struct {
	Method    string
	Path      string
	Key       string
	APIKey    string
	PrinterID int64
	Status    int
}

// fakeCloud simula la API: responde 503 mientras down está activo y permite
// forzar un código por printer_id
type fakeCloud struct {
	down     atomic.Bool
	mu       sync.Mutex
	attempts []attempt
	rejectID int64
	regCode  int
}

func (fc *fakeCloud) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var payload struct {
		PrinterID int64  `json:"printer_id"`
		IP        string `json:"ip"`
		Name      string `json:"name"`
	}
	_ = json.Unmarshal(body, &payload)

	status := http.StatusOK
	switch {
	case fc.down.Load():
		status = http.StatusServiceUnavailable
	case r.Method == http.MethodPost && r.URL.Path == pathPrinters && fc.regCode != 0:
		status = fc.regCode
	case r.Method == http.MethodPost && r.URL.Path == pathPrinters:
		status = http.StatusCreated
	case r.URL.Path == pathMetrics && fc.rejectID != 0 && payload.PrinterID == fc.rejectID:
		status = http.StatusUnprocessableEntity
	}

	fc.mu.Lock()
	fc.attempts = append(fc.attempts, attempt{
		Method:    r.Method,
		Path:      r.URL.Path,
		Key:       r.Header.Get("Idempotency-Key"),
		APIKey:    r.Header.Get("X-API-Key"),
		PrinterID: payload.PrinterID,
		Status:    status,
	})
	fc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	switch {
	case status >= 300:
		_, _ = w.Write([]byte(`{"detail":"nope"}`))
	case r.Method == http.MethodPost && r.URL.Path == pathPrinters:
		_ = json.NewEncoder(w).Encode(Printer{ID: 42, DeviceID: 7, IP: payload.IP, Name: payload.Name, ConnectionStatus: StatusUnknown})
	case r.URL.Path == pathPrinters:
		_, _ = w.Write([]byte(`[{"id":1,"device_id":7,"ip":"10.0.0.1","name":"hall","connection_status":"connected"}]`))
	default:
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// accepted devuelve los printer_id de métricas aceptadas en orden de llegada
func (fc *fakeCloud) accepted() []int64 {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	var ids []int64
	for _, a := range fc.attempts {
		if a.Path == pathMetrics && a.Status < 300 {
			ids = append(ids, a.PrinterID)
		}
	}
	return ids
}

func (fc *fakeCloud) keysFor(printerID int64) []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	var keys []string
	for _, a := range fc.attempts {
		if a.Path == pathMetrics && a.PrinterID == printerID {
			keys = append(keys, a.Key)
		}
	}
	return keys
}

func newTestRemote(t *testing.T, url string, buffer bool) (*RemoteBackend, string) {
	t.Helper()

	dir := t.TempDir()
	rb, err := NewRemote(RemoteConfig{
		BaseURL:       url,
		APIKey:        "secret-key",
		EnableBuffer:  buffer,
		BufferDir:     dir,
		RetryInterval: time.Hour,
		RetryMax:      0,
		RetryWaitMin:  time.Millisecond,
		RetryWaitMax:  2 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })

	return rb, dir
}

func sampleFor(id int64) telemetry.TelemetrySample {
	return telemetry.TelemetrySample{PrinterID: id, Timestamp: time.Now().UTC(), TonerStatus: telemetry.TonerUnknown}
}

func TestRemoteBuffersWhileDownAndDrainsInOrder(t *testing.T) {
	fc := &fakeCloud{}
	fc.down.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))
	defer srv.Close()

	rb, _ := newTestRemote(t, srv.URL, true)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, rb.WriteSample(ctx, sampleFor(id)))
	}
	assert.Equal(t, 3, rb.Pending())

	fc.down.Store(false)
	_, err := rb.Drain(ctx)
	require.NoError(t, err)

	assert.Zero(t, rb.Pending())
	assert.Equal(t, []int64{1, 2, 3}, fc.accepted())

	// el envío directo fallido y los reintentos comparten la misma clave
	keys := fc.keysFor(1)
	require.NotEmpty(t, keys)
	for _, k := range keys {
		assert.Equal(t, keys[0], k)
	}
}

func TestRemoteNewWritesQueueBehindPending(t *testing.T) {
	fc := &fakeCloud{}
	fc.down.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))
	defer srv.Close()

	rb, _ := newTestRemote(t, srv.URL, true)
	ctx := context.Background()

	require.NoError(t, rb.WriteSample(ctx, sampleFor(1)))

	// el servicio vuelve pero la cola no está vacía: la siguiente escritura se encola
	fc.down.Store(false)
	require.NoError(t, rb.WriteSample(ctx, sampleFor(2)))

	require.Eventually(t, func() bool {
		return rb.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []int64{1, 2}, fc.accepted())
}

func TestRemoteDrainRejectsPermanentFailures(t *testing.T) {
	fc := &fakeCloud{rejectID: 1}
	fc.down.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))
	defer srv.Close()

	rb, dir := newTestRemote(t, srv.URL, true)
	ctx := context.Background()

	require.NoError(t, rb.WriteSample(ctx, sampleFor(1)))
	require.NoError(t, rb.WriteSample(ctx, sampleFor(2)))

	fc.down.Store(false)
	_, err := rb.Drain(ctx)
	require.NoError(t, err)

	assert.Zero(t, rb.Pending())
	assert.Equal(t, []int64{2}, fc.accepted())

	rejected, err := filepath.Glob(filepath.Join(dir, "rejected", "*.json"))
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
}

func TestRemoteDirectPermanentFailureIsNotBuffered(t *testing.T) {
	fc := &fakeCloud{rejectID: 9}
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))
	defer srv.Close()

	rb, _ := newTestRemote(t, srv.URL, true)

	err := rb.WriteSample(context.Background(), sampleFor(9))
	require.Error(t, err)

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, http.StatusUnprocessableEntity, we.Status)
	assert.False(t, we.Retryable())
	assert.Zero(t, rb.Pending())
}

func TestRemoteWithoutBufferReturnsRetryableError(t *testing.T) {
	fc := &fakeCloud{}
	fc.down.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))
	defer srv.Close()

	rb, dir := newTestRemote(t, srv.URL, false)

	err := rb.WriteSample(context.Background(), sampleFor(1))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoteNetworkErrorIsBuffered(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rb, _ := newTestRemote(t, url, true)

	require.NoError(t, rb.WriteSample(context.Background(), sampleFor(1)))
	assert.Equal(t, 1, rb.Pending())
}

func TestRemoteRegistration(t *testing.T) {
	fc := &fakeCloud{}
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))
	defer srv.Close()

	rb, _ := newTestRemote(t, srv.URL, true)

	p, err := rb.GetOrCreatePrinter(context.Background(), PrinterRegistration{IP: "10.0.0.5", Name: "recepción"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.ID)
	assert.Equal(t, "10.0.0.5", p.IP)
	assert.False(t, p.Pending())

	require.Len(t, fc.attempts, 1)
	assert.Equal(t, "secret-key", fc.attempts[0].APIKey)
	assert.NotEmpty(t, fc.attempts[0].Key)
}

func TestRemoteRegistrationForbidden(t *testing.T) {
	fc := &fakeCloud{regCode: http.StatusForbidden}
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))
	defer srv.Close()

	rb, _ := newTestRemote(t, srv.URL, true)

	_, err := rb.GetOrCreatePrinter(context.Background(), PrinterRegistration{IP: "10.0.0.5", Name: "x"})
	assert.ErrorIs(t, err, ErrRegistrationRejected)
	assert.Zero(t, rb.Pending())
}

func TestRemoteBufferedRegistrationIsPending(t *testing.T) {
	fc := &fakeCloud{}
	fc.down.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))
	defer srv.Close()

	rb, _ := newTestRemote(t, srv.URL, true)

	p, err := rb.GetOrCreatePrinter(context.Background(), PrinterRegistration{IP: "10.0.0.6", Name: "depósito"})
	require.NoError(t, err)
	assert.True(t, p.Pending())
	assert.Equal(t, "10.0.0.6", p.IP)
	assert.Equal(t, 1, rb.Pending())
}

func TestRemoteGetPrintersAndHealth(t *testing.T) {
	fc := &fakeCloud{}
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))

	rb, _ := newTestRemote(t, srv.URL, false)
	ctx := context.Background()

	printers, err := rb.GetPrinters(ctx)
	require.NoError(t, err)
	require.Len(t, printers, 1)
	assert.Equal(t, "hall", printers[0].Name)
	assert.Equal(t, StatusConnected, printers[0].ConnectionStatus)

	assert.True(t, rb.HealthCheck(ctx))

	fc.down.Store(true)
	assert.False(t, rb.HealthCheck(ctx))

	srv.Close()
	assert.False(t, rb.HealthCheck(ctx))
}

func TestRemoteRejectsInvalidSample(t *testing.T) {
	fc := &fakeCloud{}
	srv := httptest.NewServer(http.HandlerFunc(fc.handler))
	defer srv.Close()

	rb, _ := newTestRemote(t, srv.URL, true)

	bad := sampleFor(1)
	level := 140
	bad.TonerLevelPct = &level

	err := rb.WriteSample(context.Background(), bad)
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.False(t, we.Retryable())
	assert.Empty(t, fc.attempts)
}

func TestNewRemoteRejectsBadURL(t *testing.T) {
	_, err := NewRemote(RemoteConfig{BaseURL: "not a url"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestResponseErrorTransient(t *testing.T) {
	assert.True(t, isTransient(&ResponseError{Status: 503}))
	assert.True(t, isTransient(&ResponseError{Status: 429}))
	assert.False(t, isTransient(&ResponseError{Status: 404}))
	assert.True(t, isTransient(errors.New("connection refused")))
}
