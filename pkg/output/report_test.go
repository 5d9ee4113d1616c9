package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/asaavedra/printer-monitor/pkg/scanner"
)

func sampleReport() *scanner.Report {
	return &scanner.Report{
		Target:       "10.0.0.0/30",
		HostsScanned: 2,
		StartedAt:    time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Duration:     1500 * time.Millisecond,
		Devices: []scanner.DiscoveredDevice{
			{
				IP:            "10.0.0.1",
				Name:          "hall",
				Model:         "MX-1 & co",
				Manufacturer:  "Ricoh",
				RawAttributes: map[string]string{"sysDescr": "RICOH MX-1"},
				ResponseTime:  40 * time.Millisecond,
			},
		},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleReport())

	assert.Equal(t, 1, s.Found)
	assert.Equal(t, "1.5s", s.Duration)
	assert.InDelta(t, 50.0, s.SuccessRate, 0.001)
	assert.InDelta(t, 40.0, s.AverageResponseTime, 0.001)
	assert.Equal(t, map[string]int{"Ricoh": 1}, s.ByBrand)
}

func TestWriteReportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	require.NoError(t, WriteReport(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"MX-1 & co"`)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "10.0.0.0/30", doc.ScanInfo.Target)
	require.Len(t, doc.Devices, 1)
	assert.Equal(t, "10.0.0.1", doc.Devices[0].IP)
}

func TestWriteReportYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, WriteReport(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Contains(t, doc, "scan_info")
	assert.Contains(t, doc, "devices")
}

func TestWriteReportUnsupported(t *testing.T) {
	err := WriteReport(filepath.Join(t.TempDir(), "report.csv"), sampleReport())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())

	out := buf.String()
	assert.Contains(t, out, "10.0.0.0/30")
	assert.Contains(t, out, "Ricoh")
	assert.Contains(t, out, "10.0.0.1")
}
