package log

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterPattern(t *testing.T) {
	f := &formatter{
		pattern: "%time [%level] %field %msg%n",
		time:    "2006-01-02 15:04:05",
	}
	entry := &logrus.Entry{
		Time:    time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "device added",
		Data:    logrus.Fields{"device": "veth0", "id": 0},
	}
	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01 12:30:00 [info] device=veth0 id=0 device added\n", string(out))
}

func TestFormatterNoFields(t *testing.T) {
	f := &formatter{pattern: "%level: %msg%n", time: time.RFC3339}
	entry := &logrus.Entry{
		Time:    time.Now(),
		Level:   logrus.WarnLevel,
		Message: "checksum mismatch",
	}
	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "warning: checksum mismatch\n", string(out))
}
