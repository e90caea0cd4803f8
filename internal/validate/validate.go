package validate

import "fmt"

// Text field length limits, shared by the API and the player front end.
const (
	MaxCuepointLabelLength   = 200
	MaxCuepointContentLength = 5000
	MaxCuepointsPerSession   = 200
	MaxTranscriptBytes       = 2 * 1024 * 1024
	MaxVideoIDLength         = 100
)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func CuepointLabel(s string) string { return checkLen(s, MaxCuepointLabelLength, "label") }
func CuepointContent(s string) string {
	return checkLen(s, MaxCuepointContentLength, "content")
}
func VideoID(s string) string { return checkLen(s, MaxVideoIDLength, "video id") }

// FieldLimits returns a map of field names to max lengths served at /api/limits.
func FieldLimits() map[string]int {
	return map[string]int{
		"cuepointLabel":   MaxCuepointLabelLength,
		"cuepointContent": MaxCuepointContentLength,
		"cuepoints":       MaxCuepointsPerSession,
		"transcriptBytes": MaxTranscriptBytes,
		"videoId":         MaxVideoIDLength,
	}
}
