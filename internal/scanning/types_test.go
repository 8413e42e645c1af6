package scanning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portprobe/internal/errors"
)

func TestNewScanTarget(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		port    int
		wantErr bool
	}{
		{"valid", "example.com", 443, false},
		{"lowest port", "10.0.0.1", 1, false},
		{"highest port", "10.0.0.1", 65535, false},
		{"port zero", "10.0.0.1", 0, true},
		{"port too large", "10.0.0.1", 65536, true},
		{"empty host", "", 80, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := NewScanTarget(tt.host, tt.port)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, target.Host)
			assert.Equal(t, tt.port, target.Port)
		})
	}
}

func TestScanTarget_Address(t *testing.T) {
	assert.Equal(t, "127.0.0.1:80", ScanTarget{Host: "127.0.0.1", Port: 80}.Address())
	assert.Equal(t, "[::1]:22", ScanTarget{Host: "::1", Port: 22}.String())
}

func TestNewProbeResult_ReasonNeverEmpty(t *testing.T) {
	r := NewProbeResult(ScanTarget{Host: "h", Port: 1}, StateError, "")
	assert.Equal(t, "error", r.Reason)
}

func TestScanConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ScanConfig
		field   string
		wantErr bool
	}{
		{"single host defaults", DefaultScanConfig(), "", false},
		{"multi host defaults", DefaultHostsConfig(), "", false},
		{"zero timeout", ScanConfig{Timeout: 0, MaxConcurrency: 1}, "Timeout", true},
		{"negative timeout", ScanConfig{Timeout: -time.Second, MaxConcurrency: 1}, "Timeout", true},
		{"zero concurrency", ScanConfig{Timeout: time.Second, MaxConcurrency: 0}, "MaxConcurrency", true},
		{"negative host concurrency", ScanConfig{Timeout: time.Second, MaxConcurrency: 1, HostConcurrency: -1}, "HostConcurrency", true},
		{"negative socket cap", ScanConfig{Timeout: time.Second, MaxConcurrency: 1, MaxOpenSockets: -5}, "MaxOpenSockets", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeValidation))
			assert.True(t, errors.IsFatal(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestScanConfig_SocketCap(t *testing.T) {
	assert.Equal(t, 40, ScanConfig{MaxConcurrency: 40}.socketCap())
	assert.Equal(t, 40, ScanConfig{MaxConcurrency: 40, HostConcurrency: 1}.socketCap())
	assert.Equal(t, 30, ScanConfig{MaxConcurrency: 10, HostConcurrency: 3}.socketCap())
	assert.Equal(t, 7, ScanConfig{MaxConcurrency: 10, HostConcurrency: 3, MaxOpenSockets: 7}.socketCap())
}

func TestReport(t *testing.T) {
	report := NewReport("scan-1")
	report.Results = append(report.Results,
		NewProbeResult(ScanTarget{Host: "h", Port: 1}, StateOpen, ReasonConnect),
		NewProbeResult(ScanTarget{Host: "h", Port: 2}, StateClosed, "code_111"),
		NewProbeResult(ScanTarget{Host: "h", Port: 3}, StateClosed, "code_111"),
	)
	time.Sleep(time.Millisecond)
	report.Complete()

	counts := report.Counts()
	assert.Equal(t, 1, counts[StateOpen])
	assert.Equal(t, 2, counts[StateClosed])
	assert.Equal(t, 0, counts[StateError])
	assert.Positive(t, report.Duration)
	assert.False(t, report.Canceled())

	report.Err = context.Canceled
	assert.True(t, report.Canceled())
}
