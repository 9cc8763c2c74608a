package cmd

import (
	"context"
	"testing"

	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/appconfig"
	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"INFO":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"bogus": zerolog.WarnLevel,
		"":      zerolog.WarnLevel,
		"panic": zerolog.PanicLevel,
	}
	for in, want := range tests {
		setLogging(in)
		assert.Equal(t, want, zerolog.GlobalLevel(), in)
	}
}

func TestBuildNotifier_DefaultsToLog(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Notifiers = nil
	logger := zerolog.Nop()

	n, closeFn, err := buildNotifier(context.Background(), cfg, &logger)
	require.NoError(t, err)
	defer closeFn()

	assert.IsType(t, &notify.LogNotifier{}, n)
}

func TestBuildNotifier_SingleLog(t *testing.T) {
	logger := zerolog.Nop()

	n, closeFn, err := buildNotifier(context.Background(), appconfig.Default(), &logger)
	require.NoError(t, err)
	defer closeFn()

	assert.IsType(t, &notify.LogNotifier{}, n)
}

func TestBuildNotifier_Multi(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Notifiers = []string{appconfig.NotifierLog, appconfig.NotifierLog}
	logger := zerolog.Nop()

	n, closeFn, err := buildNotifier(context.Background(), cfg, &logger)
	require.NoError(t, err)
	defer closeFn()

	multi, ok := n.(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

func TestBuildNotifier_Unknown(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Notifiers = []string{"sms"}
	logger := zerolog.Nop()

	_, _, err := buildNotifier(context.Background(), cfg, &logger)
	assert.ErrorContains(t, err, "sms")
}

func TestCheckConsumeConfig(t *testing.T) {
	cfg := appconfig.Default()
	assert.ErrorContains(t, checkConsumeConfig(cfg), "pulsar.url")

	cfg.Pulsar.URL = "pulsar://localhost:6650"
	cfg.AWS.SES.From = "alerts@example.com"
	assert.ErrorContains(t, checkConsumeConfig(cfg), "recipientsSecret")

	cfg.AWS.SES.RecipientsSecret = "heartbeat/recipients"
	assert.NoError(t, checkConsumeConfig(cfg))
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "beat", "consume", "init-db-migrate"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
}
