package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/scanning"
)

func sampleResults() []scanning.ProbeResult {
	observed := time.Date(2025, 3, 9, 23, 59, 7, 0, time.FixedZone("CET", 3600))
	return []scanning.ProbeResult{
		{
			Host: "127.0.0.1", Port: 22, Protocol: scanning.ProtocolTCP,
			State: scanning.StateOpen, Reason: scanning.ReasonConnect, ObservedAt: observed,
		},
		{
			Host: "127.0.0.1", Port: 81, Protocol: scanning.ProtocolTCP,
			State: scanning.StateClosed, Reason: "code_111", ObservedAt: observed,
		},
		{
			Host: "gateway.lan", Port: 443, Protocol: scanning.ProtocolTCP,
			State: scanning.StateOpen, Reason: "syn-ack", ServiceName: "https",
			Service:    &scanning.ServiceDetails{Product: "nginx", Version: "1.27", CPE: "cpe:/a:nginx:nginx:1.27"},
			ObservedAt: observed,
		},
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, sampleResults(), false))

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "HOST")
	assert.Contains(t, strings.ToUpper(out), "STATE")
	assert.NotContains(t, strings.ToUpper(out), "REASON")
	assert.Contains(t, out, "gateway.lan")
	assert.Contains(t, out, "443")
	assert.Contains(t, out, "closed")
	assert.NotContains(t, out, "code_111")
}

func TestPrintTable_Verbose(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, sampleResults(), true))

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "REASON")
	assert.Contains(t, out, "code_111")
	assert.Contains(t, out, "syn-ack")
}

func TestPrintTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, nil, true))
	assert.Equal(t, EmptyMessage+"\n", buf.String())
}

func TestRecord(t *testing.T) {
	results := sampleResults()

	connect := Record(&results[1])
	assert.Equal(t, []string{
		"2025-03-09", "22:59:07", "127.0.0.1", "tcp", "81",
		"N/A", "code_111", "N/A", "N/A", "N/A", "closed",
	}, connect)

	fingerprinted := Record(&results[2])
	assert.Equal(t, "https", fingerprinted[5])
	assert.Equal(t, "nginx", fingerprinted[7])
	assert.Equal(t, "1.27", fingerprinted[8])
	assert.Equal(t, "cpe:/a:nginx:nginx:1.27", fingerprinted[9])
	assert.Len(t, fingerprinted, len(CSVColumns))
}

func TestRecord_ZeroTimeUsesNow(t *testing.T) {
	r := scanning.ProbeResult{Host: "h", Port: 1, Protocol: "tcp", State: scanning.StateError}
	rec := Record(&r)
	assert.Equal(t, time.Now().UTC().Format(dateLayout), rec[0])
	assert.Equal(t, "N/A", rec[6])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResults()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, CSVColumns, rows[0])
	assert.Equal(t, "open", rows[1][10])
	assert.Equal(t, "gateway.lan", rows[3][2])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteCSV(&buf, nil), ErrNothingToSave)
	assert.Zero(t, buf.Len())
}

func TestSaveCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "scan_results.csv")
	require.NoError(t, SaveCSV(path, sampleResults()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "UTC Date,UTC Time,host,protocol,port,name,reason,product,version,cpe,state", lines[0])
}

func TestSaveCSV_EmptyCreatesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	assert.ErrorIs(t, SaveCSV(path, []scanning.ProbeResult{}), ErrNothingToSave)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveCSV_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be makes Create fail.
	path := filepath.Join(dir, "taken")
	require.NoError(t, os.Mkdir(path, 0750))

	err := SaveCSV(path, sampleResults())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeFileWrite))
}

func TestPrintSummary(t *testing.T) {
	rep := scanning.NewReport("scan-1")
	rep.Results = sampleResults()
	rep.NotScanned = []scanning.ScanTarget{{Host: "h", Port: 1}, {Host: "h", Port: 2}}
	rep.Duration = 1500 * time.Millisecond

	var buf bytes.Buffer
	require.NoError(t, PrintSummary(&buf, rep))

	out := buf.String()
	assert.Contains(t, out, "3 results (2 open, 1 closed, 0 error) in 1.5s")
	assert.Contains(t, out, "2 targets not scanned")
}

func TestPrintSummary_Nil(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, PrintSummary(&buf, nil))
	assert.Zero(t, buf.Len())
}
