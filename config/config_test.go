package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 8080
worker_pool:
  size: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 1500, cfg.Prescription.MaxVolumeML)
	assert.Equal(t, 20, cfg.Prescription.DefaultDripFactor)
	assert.Equal(t, 100*time.Millisecond, cfg.Monitor.LoopInterval)
	assert.Equal(t, 30*time.Second, cfg.Monitor.NoFlowTimeout)
	assert.Equal(t, 5*time.Second, cfg.Monitor.FlowResumeGrace)
	assert.Equal(t, 80*time.Millisecond, cfg.Sensor.DropDebounce)
	assert.Equal(t, 400*time.Millisecond, cfg.Sensor.BubbleConfirmWindow)
	assert.Equal(t, "drop", cfg.Sensor.Source)
	assert.InDelta(t, 200.0, cfg.Alarm.LowVolumeThresholdML, 0.001)
	assert.InDelta(t, 300.0, cfg.Alarm.WarningVolumeThresholdML, 0.001)
	assert.Equal(t, time.Minute, cfg.Notify.NetworkRecheck)
	assert.Equal(t, 2, cfg.WorkerPool.Size)
}

func TestLoadOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
monitor:
  no_flow_timeout_sec: 45
sensor:
  source: weight
  reference_mass_grams: 200
alarm:
  low_volume_threshold_ml: 100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Monitor.NoFlowTimeout)
	assert.Equal(t, "weight", cfg.Sensor.Source)
	assert.InDelta(t, 200.0, cfg.Sensor.ReferenceMassGrams, 0.001)
	assert.InDelta(t, 100.0, cfg.Alarm.LowVolumeThresholdML, 0.001)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadSecrets(t *testing.T) {
	path := writeFile(t, "secrets.yaml", `
sms_username: sandbox
sms_api_key: key123
sms_recipients:
  - "+254700000001"
vapid_public_key: pub
vapid_private_key: priv
`)

	s, ok := LoadSecrets(path)
	require.True(t, ok)
	assert.Equal(t, "sandbox", s.SMSUsername)
	assert.Equal(t, "key123", s.SMSAPIKey)
	assert.Equal(t, []string{"+254700000001"}, s.SMSRecipients)
	assert.Equal(t, "pub", s.VAPIDPublic)
}

func TestLoadSecretsMissingMeansLocalOnly(t *testing.T) {
	s, ok := LoadSecrets(filepath.Join(t.TempDir(), "secrets.yaml"))
	assert.False(t, ok)
	assert.NotNil(t, s)
	assert.Empty(t, s.SMSAPIKey)
}
