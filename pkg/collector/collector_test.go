package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/asaavedra/printer-monitor/pkg/snmp"
	"github.com/asaavedra/printer-monitor/pkg/storage"
	"github.com/asaavedra/printer-monitor/pkg/telemetry"
)

type fakeProber struct {
	mu       sync.Mutex
	readings map[string]*snmp.Reading
	errs     map[string]error
	calls    map[string]int
}

func (f *fakeProber) ReadTelemetry(_ context.Context, ip string) (*snmp.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[ip]++
	if err := f.errs[ip]; err != nil {
		return nil, err
	}
	r := *f.readings[ip]
	return &r, nil
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) WriteSample(ctx context.Context, s telemetry.TelemetrySample) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockBackend) RecordStatus(ctx context.Context, id int64, st storage.ConnectionStatus, at time.Time) error {
	return m.Called(ctx, id, st, at).Error(0)
}

// plainWriter no implementa StatusRecorder
type plainWriter struct {
	mu      sync.Mutex
	samples []telemetry.TelemetrySample
	err     error
}

func (w *plainWriter) WriteSample(_ context.Context, s telemetry.TelemetrySample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.samples = append(w.samples, s)
	return nil
}

func i64(v int64) *int64 { return &v }
func iptr(v int) *int    { return &v }

func forPrinter(id int64) any {
	return mock.MatchedBy(func(s telemetry.TelemetrySample) bool { return s.PrinterID == id })
}

func TestCollectIsolatesFailures(t *testing.T) {
	prober := &fakeProber{
		readings: map[string]*snmp.Reading{
			"10.0.0.1": {TotalPages: i64(100), TonerLevel: i64(45), TonerMax: i64(100), DeviceStatus: iptr(2), Model: "HP LaserJet"},
			"10.0.0.4": {TonerLevel: i64(10)},
		},
		errs: map[string]error{
			"10.0.0.2": &snmp.ProbeError{IP: "10.0.0.2", Operation: "telemetry", Kind: snmp.ErrUnreachable},
			"10.0.0.3": &snmp.ProbeError{IP: "10.0.0.3", Operation: "telemetry", Kind: snmp.ErrProtocol},
		},
	}

	backend := &mockBackend{}
	backend.On("WriteSample", mock.Anything, forPrinter(1)).Return(nil).Once()
	backend.On("WriteSample", mock.Anything, forPrinter(4)).Return(errors.New("disk full")).Once()
	backend.On("RecordStatus", mock.Anything, int64(2), storage.StatusDisconnected, mock.Anything).Return(nil).Once()
	backend.On("RecordStatus", mock.Anything, int64(3), storage.StatusError, mock.Anything).Return(nil).Once()

	c, err := New(prober, backend, Options{LowThreshold: 20}, zerolog.Nop())
	require.NoError(t, err)

	roster := []storage.Printer{
		{ID: 1, IP: "10.0.0.1"},
		{ID: 2, IP: "10.0.0.2"},
		{ID: 3, IP: "10.0.0.3"},
		{ID: 4, IP: "10.0.0.4"},
	}
	outcomes := c.Collect(context.Background(), roster)
	require.Len(t, outcomes, 4)

	ok := outcomes[1]
	assert.True(t, ok.Succeeded())
	require.NotNil(t, ok.Sample)
	assert.Equal(t, 45, *ok.Sample.TonerLevelPct)
	assert.Equal(t, telemetry.TonerOK, ok.Sample.TonerStatus)
	assert.Equal(t, "HP LaserJet", ok.Sample.Model)
	assert.Equal(t, "running", ok.Sample.Extra["device_status"])

	assert.False(t, outcomes[2].Succeeded())
	assert.Equal(t, StageProbe, outcomes[2].Stage)
	assert.True(t, snmp.IsUnreachable(outcomes[2].Err))

	assert.Equal(t, StageProbe, outcomes[3].Stage)
	assert.ErrorIs(t, outcomes[3].Err, snmp.ErrProtocol)

	assert.Equal(t, StageWrite, outcomes[4].Stage)
	assert.ErrorContains(t, outcomes[4].Err, "disk full")
	assert.Equal(t, "10.0.0.4", outcomes[4].IP)

	backend.AssertExpectations(t)
}

func TestCollectNormalizesLevels(t *testing.T) {
	prober := &fakeProber{readings: map[string]*snmp.Reading{
		"10.0.0.1": {TonerLevel: i64(150), DrumLevel: i64(-2)},
		"10.0.0.2": {TonerLevel: i64(-3)},
		"10.0.0.3": {TonerLevel: i64(0)},
		"10.0.0.4": {TonerLevel: i64(20)},
	}}
	w := &plainWriter{}

	c, err := New(prober, w, Options{LowThreshold: 20}, zerolog.Nop())
	require.NoError(t, err)

	outcomes := c.Collect(context.Background(), []storage.Printer{
		{ID: 1, IP: "10.0.0.1"}, {ID: 2, IP: "10.0.0.2"}, {ID: 3, IP: "10.0.0.3"}, {ID: 4, IP: "10.0.0.4", Model: "roster model"},
	})

	assert.Equal(t, 100, *outcomes[1].Sample.TonerLevelPct)
	assert.Nil(t, outcomes[1].Sample.DrumLevelPct)
	assert.Nil(t, outcomes[2].Sample.TonerLevelPct)
	assert.Equal(t, telemetry.TonerUnknown, outcomes[2].Sample.TonerStatus)
	assert.Equal(t, telemetry.TonerEmpty, outcomes[3].Sample.TonerStatus)
	assert.Equal(t, telemetry.TonerLow, outcomes[4].Sample.TonerStatus)
	assert.Equal(t, "roster model", outcomes[4].Sample.Model)

	for _, s := range w.samples {
		assert.NoError(t, s.Validate())
	}
}

func TestCollectDeduplicatesAndSkipsPending(t *testing.T) {
	prober := &fakeProber{readings: map[string]*snmp.Reading{"10.0.0.1": {}, "10.0.0.9": {}}}
	w := &plainWriter{}

	c, err := New(prober, w, Options{}, zerolog.Nop())
	require.NoError(t, err)

	outcomes := c.Collect(context.Background(), []storage.Printer{
		{ID: 1, IP: "10.0.0.1"},
		{ID: 1, IP: "10.0.0.1"},
		{ID: 0, IP: "10.0.0.9"},
	})

	assert.Len(t, outcomes, 1)
	assert.Equal(t, 1, prober.calls["10.0.0.1"])
	assert.Zero(t, prober.calls["10.0.0.9"])
	assert.Len(t, w.samples, 1)
}

func TestCollectEmptyRoster(t *testing.T) {
	c, err := New(&fakeProber{}, &plainWriter{}, Options{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, c.Collect(context.Background(), nil))
}

func TestCollectPageDeltas(t *testing.T) {
	prober := &fakeProber{readings: map[string]*snmp.Reading{"10.0.0.1": {TotalPages: i64(100)}}}
	w := &plainWriter{}

	c, err := New(prober, w, Options{StateDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	roster := []storage.Printer{{ID: 7, IP: "10.0.0.1"}}

	first := c.Collect(context.Background(), roster)[7].Sample
	assert.NotContains(t, first.Extra, "pages_since_last_poll")

	prober.readings["10.0.0.1"] = &snmp.Reading{TotalPages: i64(150)}
	second := c.Collect(context.Background(), roster)[7].Sample
	assert.EqualValues(t, 50, second.Extra["pages_since_last_poll"])

	prober.readings["10.0.0.1"] = &snmp.Reading{TotalPages: i64(20)}
	third := c.Collect(context.Background(), roster)[7].Sample
	assert.Equal(t, true, third.Extra["counter_reset"])
	assert.NotContains(t, third.Extra, "pages_since_last_poll")
}

func TestCollectPageDeltaSurvivesFailedWrite(t *testing.T) {
	prober := &fakeProber{readings: map[string]*snmp.Reading{"10.0.0.1": {TotalPages: i64(100)}}}
	w := &plainWriter{}

	c, err := New(prober, w, Options{StateDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	roster := []storage.Printer{{ID: 7, IP: "10.0.0.1"}}

	c.Collect(context.Background(), roster)

	w.err = errors.New("disk full")
	prober.readings["10.0.0.1"] = &snmp.Reading{TotalPages: i64(150)}
	failed := c.Collect(context.Background(), roster)[7]
	require.Error(t, failed.Err)
	assert.Equal(t, StageWrite, failed.Stage)

	w.err = nil
	prober.readings["10.0.0.1"] = &snmp.Reading{TotalPages: i64(180)}
	next := c.Collect(context.Background(), roster)[7]
	require.NoError(t, next.Err)
	assert.EqualValues(t, 80, next.Sample.Extra["pages_since_last_poll"])
}

func TestStateManagerPageDeltaDoesNotSave(t *testing.T) {
	sm, err := NewStateManager(t.TempDir())
	require.NoError(t, err)

	delta, reset, err := sm.PageDelta(3, 10)
	require.NoError(t, err)
	assert.Nil(t, delta)
	assert.False(t, reset)

	state, err := sm.LoadState(3)
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, sm.SaveState(3, 10, time.Now()))
	delta, _, err = sm.PageDelta(3, 25)
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.EqualValues(t, 15, *delta)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "1 días, 2 horas, 3 minutos", formatUptime((86400+2*3600+3*60)*100))
}
