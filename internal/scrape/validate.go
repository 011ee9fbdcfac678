package scrape

import (
	"fmt"
	"regexp"
)

// MaxBatchSize is the largest batch accepted by the HTTP surface.
const MaxBatchSize = 1000

var urlPattern = regexp.MustCompile(`(?i)^https?://.+`)

// ValidateBatchSize checks the batch-size precondition shared by every entry point.
func ValidateBatchSize(urls []string, maxSize int) error {
	if len(urls) == 0 {
		return &ValidationError{Field: "urls", Reason: "at least one URL is required"}
	}
	if maxSize > 0 && len(urls) > maxSize {
		return &ValidationError{Field: "urls", Reason: fmt.Sprintf("maximum %d URLs allowed per request", maxSize)}
	}
	return nil
}

// ValidateURLs enforces the batch size and the http(s) syntax of every URL.
func ValidateURLs(urls []string, maxSize int) error {
	if err := ValidateBatchSize(urls, maxSize); err != nil {
		return err
	}
	for i, u := range urls {
		if !urlPattern.MatchString(u) {
			return &ValidationError{
				Field:  fmt.Sprintf("urls[%d]", i),
				Reason: "invalid URL format, must start with http:// or https://",
			}
		}
	}
	return nil
}
