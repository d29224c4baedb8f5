package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-batcher/internal/logger"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(&buf, "warn")

	l.Info("batch_sent", "campaign_id", 1)
	assert.Empty(t, buf.String())

	l.Warn("quota_low", "campaign_id", 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "quota_low", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.EqualValues(t, 1, entry["campaign_id"])
}
