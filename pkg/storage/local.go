package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/asaavedra/printer-monitor/pkg/serializer"
	"github.com/asaavedra/printer-monitor/pkg/telemetry"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"

	// DefaultLocalDSN es la base embebida por defecto
	DefaultLocalDSN = "printer_monitor.db"
)

type dialect struct {
	name   string // sqlite | postgres (también nombre del directorio de migraciones)
	driver string // nombre del driver database/sql
}

// LocalConfig configura el backend local
type LocalConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`             // ruta de archivo SQLite o postgres://...
	DeviceID int64  `mapstructure:"device_id" yaml:"device_id"` // identidad del proxy dueño de las impresoras
}

// LocalBackend guarda impresoras y muestras en SQLite (embebido) o en
// PostgreSQL/TimescaleDB. Todo acceso se serializa con un mutex.
type LocalBackend struct {
	db       *sql.DB
	dialect  dialect
	deviceID int64
	codec    *serializer.Serializer
	log      zerolog.Logger

	mu sync.Mutex
}

var (
	_ Backend        = (*LocalBackend)(nil)
	_ StatusRecorder = (*LocalBackend)(nil)
	_ Pruner         = (*LocalBackend)(nil)
)

// NewLocal abre la base, aplica migraciones y devuelve el backend listo
func NewLocal(ctx context.Context, cfg LocalConfig, log zerolog.Logger) (*LocalBackend, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = DefaultLocalDSN
	}
	if cfg.DeviceID <= 0 {
		cfg.DeviceID = 1
	}

	d := dialect{name: dialectSQLite, driver: "sqlite"}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		d = dialect{name: dialectPostgres, driver: "pgx"}
	} else {
		dsn = sqliteDSN(dsn)
	}

	if err := runMigrations(d, dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.name == dialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}

	lb := &LocalBackend{
		db:       db,
		dialect:  d,
		deviceID: cfg.DeviceID,
		codec:    serializer.NewCompactSerializer(),
		log:      log,
	}

	if d.name == dialectPostgres {
		lb.initHypertable(ctx)
	}

	log.Info().Str("dialect", d.name).Int64("device_id", cfg.DeviceID).Msg("local storage ready")
	return lb, nil
}

// sqliteDSN agrega los pragmas necesarios a una ruta de archivo
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// initHypertable convierte printer_metrics en hypertable si TimescaleDB está disponible
func (lb *LocalBackend) initHypertable(ctx context.Context) {
	_, err := lb.db.ExecContext(ctx, `SELECT create_hypertable('printer_metrics', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE)`)
	if err != nil {
		lb.log.Warn().Err(err).Msg("timescaledb not available, printer_metrics stays a plain table")
		return
	}
	lb.log.Info().Msg("printer_metrics hypertable ready")
}

// rebind traduce placeholders ? a $n en PostgreSQL
func (lb *LocalBackend) rebind(query string) string {
	if lb.dialect.name != dialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HealthCheck ejecuta SELECT 1 con timeout corto
func (lb *LocalBackend) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	lb.mu.Lock()
	defer lb.mu.Unlock()

	var one int
	if err := lb.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		lb.log.Warn().Err(err).Msg("local storage health check failed")
		return false
	}
	return one == 1
}

const printerColumns = `id, device_id, ip, name, location, model, manufacturer, serial_number, connection_status, last_seen_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrinter(row rowScanner) (*Printer, error) {
	var (
		p        Printer
		status   string
		lastSeen sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.DeviceID, &p.IP, &p.Name, &p.Location, &p.Model,
		&p.Manufacturer, &p.SerialNumber, &status, &lastSeen); err != nil {
		return nil, err
	}

	p.ConnectionStatus = ConnectionStatus(status)
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		p.LastSeenAt = &t
	}
	return &p, nil
}

// GetPrinters devuelve el roster del proxy ordenado por ID
func (lb *LocalBackend) GetPrinters(ctx context.Context) ([]Printer, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	rows, err := lb.db.QueryContext(ctx,
		lb.rebind(`SELECT `+printerColumns+` FROM printers WHERE device_id = ? ORDER BY id`), lb.deviceID)
	if err != nil {
		return nil, fmt.Errorf("query printers: %w", err)
	}
	defer rows.Close()

	printers := make([]Printer, 0)
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan printer: %w", err)
		}
		printers = append(printers, *p)
	}
	return printers, rows.Err()
}

// GetOrCreatePrinter registra la impresora o actualiza nombre, ubicación y
// modelo si ya existe para este proxy
func (lb *LocalBackend) GetOrCreatePrinter(ctx context.Context, reg PrinterRegistration) (*Printer, error) {
	if err := reg.Validate(); err != nil {
		return nil, &WriteError{Backend: "local", Op: "register", Err: err}
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	query := lb.rebind(`
		INSERT INTO printers (device_id, ip, name, location, model, manufacturer, serial_number)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id, ip) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			model = excluded.model,
			manufacturer = CASE WHEN excluded.manufacturer <> '' THEN excluded.manufacturer ELSE printers.manufacturer END,
			serial_number = CASE WHEN excluded.serial_number <> '' THEN excluded.serial_number ELSE printers.serial_number END,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + printerColumns)

	p, err := scanPrinter(lb.db.QueryRowContext(ctx, query, lb.deviceID, reg.IP, reg.Name,
		reg.Location, reg.Model, reg.Manufacturer, reg.SerialNumber))
	if err != nil {
		return nil, &WriteError{Backend: "local", Op: "register", Err: err, retryable: true}
	}

	lb.log.Debug().Int64("printer_id", p.ID).Str("ip", p.IP).Msg("printer registered")
	return p, nil
}

// WriteSample inserta la muestra y marca la impresora como conectada
func (lb *LocalBackend) WriteSample(ctx context.Context, sample telemetry.TelemetrySample) error {
	if err := sample.Validate(); err != nil {
		return &WriteError{Backend: "local", Op: "sample", PrinterID: sample.PrinterID, Err: err}
	}

	var extra any
	if len(sample.Extra) > 0 {
		data, err := lb.codec.Serialize(sample.Extra)
		if err != nil {
			return &WriteError{Backend: "local", Op: "sample", PrinterID: sample.PrinterID, Err: err}
		}
		extra = string(data)
	}

	ts := sample.Timestamp.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	tx, err := lb.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Backend: "local", Op: "sample", PrinterID: sample.PrinterID, Err: err, retryable: true}
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, lb.rebind(`
		UPDATE printers SET connection_status = ?, last_seen_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND device_id = ?`),
		string(StatusConnected), ts, sample.PrinterID, lb.deviceID)
	if err != nil {
		return &WriteError{Backend: "local", Op: "sample", PrinterID: sample.PrinterID, Err: err, retryable: true}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &WriteError{Backend: "local", Op: "sample", PrinterID: sample.PrinterID, Err: ErrPrinterNotFound}
	}

	_, err = tx.ExecContext(ctx, lb.rebind(`
		INSERT INTO printer_metrics
			(printer_id, timestamp, total_pages, toner_level_pct, toner_status, drum_level_pct, device_status, model, additional_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sample.PrinterID, ts, nullInt64(sample.TotalPages), nullInt(sample.TonerLevelPct),
		string(sample.TonerStatus), nullInt(sample.DrumLevelPct), nullInt(sample.DeviceStatusCode),
		sample.Model, extra)
	if err != nil {
		return &WriteError{Backend: "local", Op: "sample", PrinterID: sample.PrinterID, Err: err, retryable: true}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Backend: "local", Op: "sample", PrinterID: sample.PrinterID, Err: err, retryable: true}
	}
	return nil
}

// RecordStatus actualiza el estado de conexión tras un sondeo fallido
func (lb *LocalBackend) RecordStatus(ctx context.Context, printerID int64, status ConnectionStatus, at time.Time) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	query := `UPDATE printers SET connection_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND device_id = ?`
	args := []any{string(status), printerID, lb.deviceID}
	if status == StatusConnected {
		query = `UPDATE printers SET connection_status = ?, last_seen_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND device_id = ?`
		args = []any{string(status), at.UTC(), printerID, lb.deviceID}
	}

	if _, err := lb.db.ExecContext(ctx, lb.rebind(query), args...); err != nil {
		return fmt.Errorf("record status for printer %d: %w", printerID, err)
	}
	return nil
}

// PruneSamples borra las muestras anteriores a olderThan
func (lb *LocalBackend) PruneSamples(ctx context.Context, olderThan time.Time) (int64, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	res, err := lb.db.ExecContext(ctx, lb.rebind(`DELETE FROM printer_metrics WHERE timestamp < ?`), olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return res.RowsAffected()
}

// LatestSamples devuelve las últimas muestras de una impresora, más recientes primero
func (lb *LocalBackend) LatestSamples(ctx context.Context, printerID int64, limit int) ([]telemetry.TelemetrySample, error) {
	if limit <= 0 {
		limit = 10
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	rows, err := lb.db.QueryContext(ctx, lb.rebind(`
		SELECT printer_id, timestamp, total_pages, toner_level_pct, toner_status, drum_level_pct, device_status, model, additional_data
		FROM printer_metrics WHERE printer_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`), printerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []telemetry.TelemetrySample
	for rows.Next() {
		var (
			s                   telemetry.TelemetrySample
			pages               sql.NullInt64
			toner, drum, status sql.NullInt32
			tonerStatus, model  sql.NullString
			extra               sql.NullString
		)
		if err := rows.Scan(&s.PrinterID, &s.Timestamp, &pages, &toner, &tonerStatus, &drum, &status, &model, &extra); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.Timestamp = s.Timestamp.UTC()
		s.TotalPages = fromNullInt64(pages)
		s.TonerLevelPct = fromNullInt32(toner)
		s.DrumLevelPct = fromNullInt32(drum)
		s.DeviceStatusCode = fromNullInt32(status)
		s.TonerStatus = telemetry.TonerStatus(tonerStatus.String)
		s.Model = model.String
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &s.Extra); err != nil {
				return nil, fmt.Errorf("decode additional_data: %w", err)
			}
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Close cierra la base
func (lb *LocalBackend) Close() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func fromNullInt32(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}
