package monitoring

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponent_TagsEntries(t *testing.T) {
	original := Logger()
	defer UseLogger(original)

	logger, hook := test.NewNullLogger()
	UseLogger(logger)

	Component("decoder").Warn("short payload")

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "decoder", entry.Data["component"])
	assert.Equal(t, "short payload", entry.Message)
}

func TestConfigure(t *testing.T) {
	original := Logger()
	defer UseLogger(original)

	t.Run("defaults", func(t *testing.T) {
		require.NoError(t, Configure(Options{}))
		assert.Equal(t, logrus.InfoLevel, Logger().GetLevel())
	})

	t.Run("json with file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rgbd.log")
		err := Configure(Options{
			Level:  "debug",
			Format: "json",
			File:   &FileOptions{Path: path, MaxSizeMB: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, Logger().GetLevel())
		_, isJSON := Logger().Formatter.(*logrus.JSONFormatter)
		assert.True(t, isJSON)
	})

	t.Run("bad level", func(t *testing.T) {
		assert.Error(t, Configure(Options{Level: "loud"}))
	})

	t.Run("bad format", func(t *testing.T) {
		assert.Error(t, Configure(Options{Format: "xml"}))
	})

	t.Run("file without path", func(t *testing.T) {
		assert.Error(t, Configure(Options{File: &FileOptions{}}))
	})
}
