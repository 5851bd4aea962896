package logging

import (
	"bytes"
	"testing"

	prefixed "github.com/BertoldVdb/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", &buf)
	require.Nil(t, err)
	assert.Equal(t, logrus.WarnLevel, log.Logger.GetLevel())

	Component(log, "hub").Info("hidden")
	assert.Equal(t, 0, buf.Len())

	Component(log, "hub").Warn("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "hub")
}

func TestNewBadLevel(t *testing.T) {
	_, err := New("loud", nil)
	assert.NotNil(t, err)
}

func TestNewFormatter(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("info", &buf)
	require.Nil(t, err)

	f, ok := log.Logger.Formatter.(*prefixed.TextFormatter)
	require.True(t, ok)
	assert.True(t, f.FullTimestamp)
	assert.Equal(t, "2006-01-02 15:04:05", f.TimestampFormat)
	assert.Equal(t, 40, f.SpacePadding)

	Component(log, "mqtt").WithField("device", "pump").Info("published")
	assert.Contains(t, buf.String(), "mqtt")
	assert.Contains(t, buf.String(), "device=pump")
}
