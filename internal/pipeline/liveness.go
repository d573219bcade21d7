package pipeline

import (
	"regexp"
	"strings"

	"github.com/watchloop/pagewatch/internal/core"
)

const minContentLength = 100

var loadingMarkerRegexes = []*regexp.Regexp{
	regexp.MustCompile(`\bNaN\b`),
	regexp.MustCompile(`undefined items`),
	regexp.MustCompile(`of NaN pages`),
	regexp.MustCompile(`\bloading\b`),
}

// loadingMarkerSubstrings are checked as exact substrings (not word-
// bounded): "Loading..." always indicates an unfinished spinner state
// regardless of surrounding characters.
var loadingMarkerSubstrings = []string{
	"Loading...",
}

// checkLiveness applies spec §4.2.1 to trimmed content, returning the
// tagged rejection error when the content looks unfinished or absent.
func checkLiveness(content string, mode core.ContentMode) error {
	trimmed := strings.TrimSpace(content)

	if len(trimmed) < minContentLength {
		return core.ErrContentTooShort
	}
	if containsLoadingMarker(trimmed) {
		return core.ErrContentContainsLoadingMarkers
	}
	if mode == core.ContentModeText && countNonEmptyLines(trimmed) < 3 {
		return core.ErrContentInsufficientLines
	}
	return nil
}

func containsLoadingMarker(content string) bool {
	for _, s := range loadingMarkerSubstrings {
		if strings.Contains(content, s) {
			return true
		}
	}
	for _, re := range loadingMarkerRegexes {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

func countNonEmptyLines(content string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
