// File: internal/processor/transformer.go
package processor

import (
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Payload keys of a glucodata.Minute bundle. The dots are part of the key,
// so they are escaped for gjson.
const (
	KeySerial  = "glucodata.Minute.SerialNumber"
	KeyMgdl    = "glucodata.Minute.mgdl"
	KeyGlucose = "glucodata.Minute.glucose"
	KeyRate    = "glucodata.Minute.Rate"
	KeyTime    = "glucodata.Minute.Time"
	KeyDelta   = "glucodata.Minute.Delta"
)

const mmolFactor = 18.0182

// PayloadTransformer turns a raw broadcast payload into a reading
type PayloadTransformer struct {
	now func() time.Time
}

// NewPayloadTransformer creates a transformer
func NewPayloadTransformer() *PayloadTransformer {
	return &PayloadTransformer{now: time.Now}
}

func path(key string) string {
	return strings.ReplaceAll(key, ".", `\.`)
}

// Transform extracts the reading fields. The payload itself is kept on the
// reading untouched so it can be relayed byte for byte.
func (pt *PayloadTransformer) Transform(payload []byte) (*models.GlucoseReading, error) {
	if !gjson.ValidBytes(payload) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Payload is not valid JSON", "")
	}

	res := gjson.GetManyBytes(payload,
		path(KeySerial), path(KeyMgdl), path(KeyGlucose), path(KeyRate), path(KeyTime), path(KeyDelta))
	serial, mgdl, glucose, rate, ts, delta := res[0], res[1], res[2], res[3], res[4], res[5]

	reading := &models.GlucoseReading{
		SensorSerial: serial.String(),
		ReceivedAt:   pt.now().UTC(),
		Payload:      payload,
	}

	switch {
	case mgdl.Exists():
		reading.Value = mgdl.Float()
	case glucose.Exists():
		// glucose is in the user's unit; values below 30 can only be mmol/L
		reading.Value = glucose.Float()
		if reading.Value < 30 {
			reading.Value = math.Round(reading.Value*mmolFactor*10) / 10
		}
	default:
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Payload carries no glucose value", "")
	}

	if rate.Exists() {
		r := rate.Float()
		if !math.IsNaN(r) {
			reading.Rate = r
		}
	}

	if ts.Exists() {
		reading.Time = time.UnixMilli(ts.Int()).UTC()
	} else {
		reading.Time = reading.ReceivedAt
	}

	if delta.Exists() {
		d := delta.Float()
		if !math.IsNaN(d) {
			reading.Delta = &d
		}
	}

	reading.ID = utils.ReadingID(reading.SensorSerial, reading.Time)
	return reading, nil
}
