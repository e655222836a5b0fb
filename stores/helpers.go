package stores

import (
	"strings"
	"time"

	"github.com/oarkflow/date"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func joinIndices(indices []string) string {
	return strings.Join(indices, ",")
}

func splitIndices(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
