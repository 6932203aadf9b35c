package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// FormatBytes renders a byte count in the largest unit that keeps the
// value above one.
func FormatBytes(size int64) string {
	const unit = 1024.0
	value := float64(size)
	for _, suffix := range []string{"B", "KB", "MB", "GB"} {
		if value < unit {
			return fmt.Sprintf("%.2f %s", value, suffix)
		}
		value /= unit
	}
	return fmt.Sprintf("%.2f TB", value)
}

// EnsureDirectory creates the directory if it does not exist.
func EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}

// WriteJSONResponse writes a JSON response to the http.ResponseWriter
func WriteJSONResponse(w http.ResponseWriter, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(jsonData)
	return err
}

// ParseBool interprets common boolean strings, returning true for typical truthy values.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// GetenvTrim returns the environment variable value with surrounding whitespace removed.
func GetenvTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
