package generation

import (
	"strconv"
	"strings"
)

const (
	DefaultDuration    = 10
	DefaultOrientation = "landscape"
)

// Settings is the body of a job creation request.
type Settings struct {
	Prompt          string `json:"prompt"`
	Duration        int    `json:"duration"`
	Orientation     string `json:"orientation"`
	RemoveWatermark bool   `json:"removeWatermark"`
}

// ParseSettings builds Settings from the labels shown in the playground,
// e.g. "15s" and "Portrait".
func ParseSettings(prompt, durationLabel, orientationLabel string, removeWatermark bool) Settings {
	return Settings{
		Prompt:          strings.TrimSpace(prompt),
		Duration:        parseDuration(durationLabel),
		Orientation:     parseOrientation(orientationLabel),
		RemoveWatermark: removeWatermark,
	}
}

func parseDuration(label string) int {
	label = strings.TrimSpace(strings.Replace(label, "s", "", 1))

	end := 0
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}

	n, err := strconv.Atoi(label[:end])
	if err != nil || n == 0 {
		return DefaultDuration
	}

	return n
}

func parseOrientation(label string) string {
	o := strings.ToLower(strings.TrimSpace(label))
	if o == "" {
		return DefaultOrientation
	}

	return o
}
