package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asaavedra/printer-monitor/pkg/telemetry"
)

func i64(v int64) *int64 { return &v }
func iptr(v int) *int    { return &v }

func TestLevelPercent(t *testing.T) {
	tests := []struct {
		name  string
		level *int64
		max   *int64
		want  *int
	}{
		{"missing", nil, nil, nil},
		{"plain percent", i64(45), nil, iptr(45)},
		{"max 100", i64(45), i64(100), iptr(45)},
		{"relative to capacity", i64(3000), i64(12000), iptr(25)},
		{"over range clamped", i64(150), nil, iptr(100)},
		{"over capacity clamped", i64(13000), i64(12000), iptr(100)},
		{"other sentinel", i64(-1), i64(100), nil},
		{"unknown sentinel", i64(-2), nil, nil},
		{"some remaining sentinel", i64(-3), nil, nil},
		{"unknown max ignored", i64(60), i64(-2), iptr(60)},
		{"huge raw counter", i64(1 << 40), nil, iptr(100)},
		{"huge capacity full", i64(1 << 62), i64(1 << 62), iptr(100)},
		{"huge capacity half", i64(1 << 61), i64(1 << 62), iptr(50)},
		{"huge level small capacity", i64(1 << 62), i64(500), iptr(100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelPercent(tt.level, tt.max))
		})
	}
}

func TestClampPercent(t *testing.T) {
	assert.Nil(t, ClampPercent(nil))
	assert.Equal(t, 0, *ClampPercent(iptr(-7)))
	assert.Equal(t, 100, *ClampPercent(iptr(101)))
}

func TestTonerStatus(t *testing.T) {
	assert.Equal(t, telemetry.TonerUnknown, TonerStatus(nil, DefaultLowThreshold))
	assert.Equal(t, telemetry.TonerEmpty, TonerStatus(iptr(0), DefaultLowThreshold))
	assert.Equal(t, telemetry.TonerLow, TonerStatus(iptr(1), DefaultLowThreshold))
	assert.Equal(t, telemetry.TonerLow, TonerStatus(iptr(20), DefaultLowThreshold))
	assert.Equal(t, telemetry.TonerOK, TonerStatus(iptr(21), DefaultLowThreshold))
	assert.Equal(t, telemetry.TonerLow, TonerStatus(iptr(30), 30))
}

func TestDecodeStatus(t *testing.T) {
	assert.Nil(t, DecodeDeviceStatus(nil))
	assert.Equal(t, "running", DecodeDeviceStatus(iptr(2)).Meaning)
	assert.Equal(t, "down", DecodeDeviceStatus(iptr(5)).Meaning)
	assert.Equal(t, "unknown", DecodeDeviceStatus(iptr(42)).Meaning)

	assert.Equal(t, "idle", DecodePrinterStatus(iptr(3)).Meaning)
	assert.Equal(t, "printing", DecodePrinterStatus(iptr(4)).Meaning)
}
