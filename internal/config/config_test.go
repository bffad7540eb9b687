package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, constants.DefaultPort, c.Server.Port)
	assert.Equal(t, constants.StorageFile, c.Storage.Type)
	assert.Equal(t, constants.SourceCSV, c.Source.Type)
	assert.Equal(t, constants.DefaultSeqLen, c.Forecasting.SeqLen)
	assert.Equal(t, constants.DefaultPredLen, c.Forecasting.PredLen)
	assert.Equal(t, constants.DefaultTapNetEpochs, c.Regression.NEpochs)
	require.NoError(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  shutdown_timeout: 5s
logging:
  level: debug
  format: json
storage:
  type: redis
  redis:
    addr: cache:6379
    key_prefix: forecasts
forecasting:
  seq_len: 48
  pred_len: 12
  criterion: Huber
regression:
  n_epochs: 50
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 5*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, constants.DefaultHost, c.Server.Host)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, constants.StorageRedis, c.Storage.Type)
	assert.Equal(t, "cache:6379", c.Storage.Redis.Addr)
	assert.Equal(t, "forecasts", c.Storage.Redis.KeyPrefix)
	assert.Equal(t, 48, c.Forecasting.SeqLen)
	assert.Equal(t, 12, c.Forecasting.PredLen)
	assert.Equal(t, constants.CriterionHuber, c.Forecasting.Criterion)
	assert.Equal(t, constants.DefaultOptimizer, c.Forecasting.Optimizer)
	assert.Equal(t, 50, c.Regression.NEpochs)
	assert.Equal(t, constants.DefaultTapNetBatchSize, c.Regression.BatchSize)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("TSFORECAST_SERVER_PORT", "7070")
	t.Setenv("TSFORECAST_STORAGE_FILE_BASE_PATH", "/var/lib/tsforecast")
	t.Setenv("TSFORECAST_FORECASTING_NUM_EPOCHS", "3")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, c.Server.Port)
	assert.Equal(t, "/var/lib/tsforecast", c.Storage.File.BasePath)
	assert.Equal(t, 3, c.Forecasting.NumEpochs)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfiguration, errors.GetType(err))

	_, err = Load(writeConfig(t, "server: [unclosed"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "logging:\n  format: xml\n"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfiguration, errors.GetType(err))

	_, err = Load(writeConfig(t, "server:\n  port: 70000\n"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("dropped")
	logger.WithField("estimator", "ltsf-linear").Warn("kept")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "ltsf-linear", entry["estimator"])

	fallback := NewLogger(LoggingConfig{Level: "loud"})
	assert.Equal(t, logrus.InfoLevel, fallback.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, fallback.Formatter)
}
