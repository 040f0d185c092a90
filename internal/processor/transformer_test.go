package processor

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

func TestTransformMgdl(t *testing.T) {
	pt := NewPayloadTransformer()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	r, err := pt.Transform([]byte(`{
		"glucodata.Minute.SerialNumber": "3MH00ABC",
		"glucodata.Minute.mgdl": 143,
		"glucodata.Minute.glucose": 7.9,
		"glucodata.Minute.Rate": -1.2,
		"glucodata.Minute.Time": ` + strconv.FormatInt(at.UnixMilli(), 10) + `,
		"glucodata.Minute.Delta": -3.5
	}`))
	require.NoError(t, err)

	assert.Equal(t, "3MH00ABC", r.SensorSerial)
	assert.Equal(t, 143.0, r.Value)
	assert.Equal(t, -1.2, r.Rate)
	assert.True(t, at.Equal(r.Time))
	require.NotNil(t, r.Delta)
	assert.Equal(t, -3.5, *r.Delta)
	assert.Equal(t, utils.ReadingID("3MH00ABC", at), r.ID)
	assert.NotEmpty(t, r.Payload)
}

func TestTransformMmolFallback(t *testing.T) {
	pt := NewPayloadTransformer()
	r, err := pt.Transform([]byte(`{"glucodata.Minute.SerialNumber":"s","glucodata.Minute.glucose":5.5}`))
	require.NoError(t, err)
	assert.Equal(t, 99.1, r.Value)
	assert.Equal(t, r.ReceivedAt, r.Time, "missing time falls back to receive time")
	assert.Nil(t, r.Delta)
}

func TestTransformRejects(t *testing.T) {
	pt := NewPayloadTransformer()

	_, err := pt.Transform([]byte("nope"))
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))

	_, err = pt.Transform([]byte(`{"glucodata.Minute.SerialNumber":"s"}`))
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))
}
