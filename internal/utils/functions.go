package utils

import (
	"fmt"
	"strings"
	"time"

	units "github.com/docker/go-units"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func ParseHeaderArgs(headers []string) map[string]string {
	return splitPairs(headers, ":")
}

// ParseParamArgs turns key=value flags into an init parameter map. Later
// duplicates win.
func ParseParamArgs(params []string) map[string]string {
	return splitPairs(params, "=")
}

func splitPairs(items []string, sep string) map[string]string {
	result := make(map[string]string)
	for _, item := range items {
		parts := strings.SplitN(item, sep, 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			if key != "" {
				result[key] = value
			}
		}
	}
	return result
}

func FormatBytes(bytes int64) string {
	return units.BytesSize(float64(bytes))
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed == 0 {
		return "0B/s"
	}
	return units.BytesSize(float64(bytes)/elapsed) + "/s"
}

// ShortenName keeps the last max runes of name, marking the cut with "..".
func ShortenName(name string, max int) string {
	runes := []rune(name)
	if len(runes) <= max {
		return name
	}
	return ".." + string(runes[len(runes)-max:])
}

func FormatPercent(fraction float64) string {
	return fmt.Sprintf("%.1f%%", fraction*100)
}
