package utils

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapErrorKeepsCause(t *testing.T) {
	err := WrapError(ErrCodeDatabase, "Failed to save reading", io.ErrUnexpectedEOF)

	assert.Equal(t, "DATABASE_ERROR: Failed to save reading (unexpected EOF)", err.Error())
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.NotEmpty(t, err.File)

	wrapped := fmt.Errorf("store: %w", err)
	assert.True(t, HasCode(wrapped, ErrCodeDatabase))
	assert.False(t, HasCode(wrapped, ErrCodeValidation))
	assert.False(t, HasCode(io.EOF, ErrCodeDatabase))
}

func TestNewAppErrorDetails(t *testing.T) {
	err := NewAppError(ErrCodeRelay, "Node not connected", "watch-1").WithStackTrace()

	assert.Equal(t, "watch-1", err.Details)
	assert.Nil(t, err.Unwrap())
	assert.Contains(t, err.StackTrace, "goroutine")
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "text", "stderr", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	_, err = NewLogger("loud", "json", "stdout", "")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml", "stdout", "")
	assert.Error(t, err)

	_, err = NewLogger("info", "json", "file", "")
	assert.Error(t, err)
}
