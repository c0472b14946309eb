package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", NoColor: true, Output: &buf})
	require.NoError(t, err)

	logger.WithFields(Fields{"run_id": "abc", "frame": 7}).Debug("processed")

	out := buf.String()
	assert.Contains(t, out, "processed")
	assert.Contains(t, out, "abc")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Info("nothing to see")
	assert.NotNil(t, logger)
}
