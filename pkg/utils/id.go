package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a random ID
func GenerateID() string {
	return uuid.NewString()
}

// ReadingID derives a stable ID for a reading from its sensor and timestamp,
// so a re-delivered broadcast maps onto the same row.
func ReadingID(sensor string, at time.Time) string {
	key := fmt.Sprintf("%s-%d", strings.ToLower(sensor), at.UnixMilli())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
