package util

import (
	"math"
	"time"
)

var utcPlus2 = time.FixedZone("UTC+02:00", 2*60*60)

// FormatUTCPlus2 renders t the way records store their localized time,
// e.g. "2024-05-01 14:03:09 UTC+02:00".
func FormatUTCPlus2(t time.Time) string {
	return t.In(utcPlus2).Format("2006-01-02 15:04:05") + " UTC+02:00"
}

// RoundMillis returns d in seconds rounded to millisecond precision.
func RoundMillis(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
