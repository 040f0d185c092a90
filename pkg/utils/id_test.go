package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReadingIDIsStable(t *testing.T) {
	at := time.UnixMilli(1700000000000)

	assert.Equal(t, ReadingID("ABC123", at), ReadingID("abc123", at))
	assert.NotEqual(t, ReadingID("ABC123", at), ReadingID("ABC123", at.Add(time.Minute)))
}

func TestGenerateIDUnique(t *testing.T) {
	assert.NotEqual(t, GenerateID(), GenerateID())
}

func TestHasCode(t *testing.T) {
	err := NewAppError(ErrCodeValidation, "bad input")

	assert.True(t, HasCode(err, ErrCodeValidation))
	assert.False(t, HasCode(err, ErrCodeDatabase))
	assert.False(t, HasCode(nil, ErrCodeValidation))
}
