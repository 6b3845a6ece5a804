package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_New(t *testing.T) {
	var buf bytes.Buffer

	l, err := New(Options{Level: "debug", Output: &buf, NoColors: true})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.WithFields(Fields{"trace_id": "abc"}).Debug("inference done")
	assert.Contains(t, buf.String(), "inference done")
	assert.Contains(t, buf.String(), "abc")
}

func TestLogger_InvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestLogger_NoFileWriterInTests(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	dir := t.TempDir()

	l, err := New(Options{Dir: dir, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	l.Info("not persisted")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogger_Discard(t *testing.T) {
	l := Discard()
	assert.NotPanics(t, func() { l.Info("dropped") })
}
