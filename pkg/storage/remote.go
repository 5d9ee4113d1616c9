package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/asaavedra/printer-monitor/pkg/queue"
	"github.com/asaavedra/printer-monitor/pkg/serializer"
	"github.com/asaavedra/printer-monitor/pkg/telemetry"
)

const (
	pathHealth   = "/health"
	pathPrinters = "/api/v1/printers"
	pathMetrics  = "/api/v1/metrics"

	// DefaultRetryInterval es el período del drenado de la cola offline
	DefaultRetryInterval = 30 * time.Second
)

// RemoteConfig configura el backend cloud
type RemoteConfig struct {
	BaseURL        string        `mapstructure:"api_url" yaml:"api_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	EnableBuffer   bool          `mapstructure:"enable_buffer" yaml:"enable_buffer"`
	BufferDir      string        `mapstructure:"buffer_dir" yaml:"buffer_dir"`
	RetryInterval  time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RetryMax       int           `mapstructure:"retry_max" yaml:"retry_max"`
	RetryWaitMin   time.Duration `mapstructure:"retry_wait_min" yaml:"retry_wait_min"`
	RetryWaitMax   time.Duration `mapstructure:"retry_wait_max" yaml:"retry_wait_max"`
}

// ResponseError es una respuesta HTTP no-2xx del servicio
type ResponseError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (se *ResponseError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", se.Method, se.Path, se.Status, se.Body)
}

// Transient indica 5xx o 429: reintentar más tarde puede funcionar
func (se *ResponseError) Transient() bool {
	return se.Status >= 500 || se.Status == http.StatusTooManyRequests
}

// isTransient clasifica un fallo de envío; errores de red son transitorios
func isTransient(err error) bool {
	var se *ResponseError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return err != nil
}

// RemoteBackend habla con la API cloud. Con buffer activado, los fallos
// transitorios se encolan en disco y un único consumidor los reenvía en orden.
type RemoteBackend struct {
	cfg    RemoteConfig
	client *retryablehttp.Client
	health *retryablehttp.Client
	queue  *queue.Queue
	codec  *serializer.Serializer
	log    zerolog.Logger

	drainMu   sync.Mutex
	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ Backend = (*RemoteBackend)(nil)

// NewRemote crea el backend cloud y arranca el drenado si hay buffer
func NewRemote(cfg RemoteConfig, log zerolog.Logger) (*RemoteBackend, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid cloud api url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = time.Second
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 10 * time.Second
	}
	if cfg.BufferDir == "" {
		cfg.BufferDir = "buffer"
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.HTTPClient.Timeout = cfg.RequestTimeout
	client.Logger = leveledLogger{log}
	// devolver la última respuesta en vez de un error genérico al agotar reintentos
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	health := retryablehttp.NewClient()
	health.RetryMax = 0
	health.HTTPClient.Timeout = 5 * time.Second
	health.Logger = nil
	health.ErrorHandler = retryablehttp.PassthroughErrorHandler

	rb := &RemoteBackend{
		cfg:    cfg,
		client: client,
		health: health,
		codec:  serializer.NewCompactSerializer(),
		log:    log,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if cfg.EnableBuffer {
		q, err := queue.Open(cfg.BufferDir)
		if err != nil {
			return nil, err
		}
		rb.queue = q
		go rb.drainLoop()
	} else {
		close(rb.done)
	}

	return rb, nil
}

// HealthCheck hace GET /health sin reintentos
func (rb *RemoteBackend) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := rb.do(ctx, rb.health, http.MethodGet, pathHealth, nil, "")
	if err != nil {
		rb.log.Warn().Err(err).Msg("cloud health check failed")
		return false
	}
	return true
}

// GetPrinters lista las impresoras que el servicio asocia a este proxy
func (rb *RemoteBackend) GetPrinters(ctx context.Context) ([]Printer, error) {
	body, err := rb.do(ctx, rb.client, http.MethodGet, pathPrinters, nil, "")
	if err != nil {
		return nil, fmt.Errorf("get printers: %w", err)
	}

	printers := make([]Printer, 0)
	if err := json.Unmarshal(body, &printers); err != nil {
		return nil, fmt.Errorf("decode printers: %w", err)
	}
	return printers, nil
}

// GetOrCreatePrinter registra la impresora. Si el servicio no está disponible
// y hay buffer, devuelve una impresora pendiente (ID 0).
func (rb *RemoteBackend) GetOrCreatePrinter(ctx context.Context, reg PrinterRegistration) (*Printer, error) {
	if err := reg.Validate(); err != nil {
		return nil, &WriteError{Backend: "cloud", Op: "register", Err: err}
	}

	payload, err := rb.codec.Serialize(reg)
	if err != nil {
		return nil, &WriteError{Backend: "cloud", Op: "register", Err: err}
	}

	pending := &Printer{
		IP:               reg.IP,
		Name:             reg.Name,
		Location:         reg.Location,
		Model:            reg.Model,
		Manufacturer:     reg.Manufacturer,
		SerialNumber:     reg.SerialNumber,
		ConnectionStatus: StatusUnknown,
	}

	body, buffered, err := rb.write(ctx, queue.KindRegister, pathPrinters, payload, 0)
	if err != nil {
		var se *ResponseError
		if errors.As(err, &se) && se.Status == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %s", ErrRegistrationRejected, se.Body)
		}
		return nil, err
	}
	if buffered {
		return pending, nil
	}

	var p Printer
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &WriteError{Backend: "cloud", Op: "register", Err: fmt.Errorf("decode printer: %w", err)}
	}
	return &p, nil
}

// WriteSample envía la muestra; con buffer, un fallo transitorio la encola
func (rb *RemoteBackend) WriteSample(ctx context.Context, sample telemetry.TelemetrySample) error {
	if err := sample.Validate(); err != nil {
		return &WriteError{Backend: "cloud", Op: "sample", PrinterID: sample.PrinterID, Err: err}
	}

	payload, err := rb.codec.Serialize(sample)
	if err != nil {
		return &WriteError{Backend: "cloud", Op: "sample", PrinterID: sample.PrinterID, Err: err}
	}

	_, _, err = rb.write(ctx, queue.KindSample, pathMetrics, payload, sample.PrinterID)
	return err
}

// write envía directo si la cola está vacía o encola detrás de lo pendiente
func (rb *RemoteBackend) write(ctx context.Context, kind queue.Kind, path string, payload []byte, printerID int64) ([]byte, bool, error) {
	id := uuid.New()
	op := string(kind)

	if rb.queue != nil {
		n, err := rb.queue.Len()
		if err == nil && n > 0 {
			return nil, true, rb.enqueue(id, kind, payload, printerID)
		}
	}

	body, err := rb.do(ctx, rb.client, http.MethodPost, path, payload, id.String())
	if err == nil {
		return body, false, nil
	}

	status := 0
	var se *ResponseError
	if errors.As(err, &se) {
		status = se.Status
	}

	if !isTransient(err) {
		return nil, false, &WriteError{Backend: "cloud", Op: op, PrinterID: printerID, Status: status, Err: err}
	}
	if rb.queue == nil {
		return nil, false, &WriteError{Backend: "cloud", Op: op, PrinterID: printerID, Status: status, Err: err, retryable: true}
	}

	rb.log.Warn().Err(err).Str("kind", op).Int64("printer_id", printerID).Msg("cloud unavailable, buffering write")
	return nil, true, rb.enqueue(id, kind, payload, printerID)
}

func (rb *RemoteBackend) enqueue(id uuid.UUID, kind queue.Kind, payload []byte, printerID int64) error {
	if _, err := rb.queue.AppendID(id, kind, payload); err != nil {
		return &WriteError{Backend: "cloud", Op: string(kind), PrinterID: printerID, Err: fmt.Errorf("buffer write: %w", err)}
	}

	select {
	case rb.kick <- struct{}{}:
	default:
	}
	return nil
}

// Pending cuenta las escrituras encoladas
func (rb *RemoteBackend) Pending() int {
	if rb.queue == nil {
		return 0
	}
	n, _ := rb.queue.Len()
	return n
}

func (rb *RemoteBackend) drainLoop() {
	defer close(rb.done)

	ticker := time.NewTicker(rb.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rb.stop:
			return
		case <-ticker.C:
		case <-rb.kick:
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-rb.stop:
				cancel()
			case <-ctx.Done():
			}
		}()

		sent, err := rb.Drain(ctx)
		cancel()

		if sent > 0 {
			rb.log.Info().Int("sent", sent).Int("pending", rb.Pending()).Msg("buffered writes delivered")
		}
		if err != nil {
			rb.log.Debug().Err(err).Msg("drain round stopped")
		}
	}
}

// Drain reenvía la cola en orden. Cada entrada se borra solo tras un 2xx; un
// fallo transitorio corta la ronda y un rechazo 4xx mueve la entrada a rejected/.
func (rb *RemoteBackend) Drain(ctx context.Context) (int, error) {
	if rb.queue == nil {
		return 0, nil
	}

	rb.drainMu.Lock()
	defer rb.drainMu.Unlock()

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		e, err := rb.queue.Peek()
		if err != nil {
			return sent, err
		}
		if e == nil {
			return sent, nil
		}

		path := pathMetrics
		if e.Kind == queue.KindRegister {
			path = pathPrinters
		}

		_, err = rb.do(ctx, rb.client, http.MethodPost, path, e.Payload, e.ID.String())
		switch {
		case err == nil:
			if err := rb.queue.Remove(e); err != nil {
				return sent, err
			}
			sent++
		case isTransient(err):
			if mErr := rb.queue.MarkFailed(e, err); mErr != nil {
				rb.log.Warn().Err(mErr).Msg("could not update buffered entry")
			}
			return sent, err
		default:
			rb.log.Error().Err(err).Uint64("seq", e.Seq).Str("kind", string(e.Kind)).Msg("cloud rejected buffered write")
			if err := rb.queue.Reject(e, err); err != nil {
				return sent, err
			}
		}
	}
}

// do ejecuta la petición y devuelve el cuerpo si la respuesta es 2xx
func (rb *RemoteBackend) do(ctx context.Context, client *retryablehttp.Client, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rb.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", rb.cfg.APIKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResponseError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// Close detiene el drenado; lo pendiente queda en disco para el próximo arranque
func (rb *RemoteBackend) Close() error {
	rb.closeOnce.Do(func() {
		close(rb.stop)
	})
	<-rb.done
	return nil
}

// leveledLogger adapta zerolog a retryablehttp.LeveledLogger
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }
