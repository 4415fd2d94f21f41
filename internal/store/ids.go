package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// shortID returns the first 8 hex chars of a fresh UUID, used as the random
// suffix in on-disk file names.
func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// stampName builds a `<prefix>-<millis>-<rand>.json` file name.
func stampName(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s.json", prefix, now.UnixMilli(), shortID())
}

// sanitizeLabel restricts an operation label to characters safe in file names.
// Empty or fully rejected labels fall back to "tx".
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "tx"
	}
	return b.String()
}

// stampMillis extracts the millisecond timestamp from a
// `<prefix>-<millis>-<rand>.json` name. The prefix may itself contain dashes,
// so the name is parsed from the end.
func stampMillis(name string) (int64, bool) {
	name = strings.TrimSuffix(name, ".json")
	parts := strings.Split(name, "-")
	if len(parts) < 3 {
		return 0, false
	}
	ms, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
