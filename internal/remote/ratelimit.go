package remote

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
)

// retryAfter extracts a backoff hint from a 429 response. Sources, in order:
//
//   - Retry-After: 30                       (seconds or HTTP-date)
//   - RateLimit-Reset: 30                   (draft-7 standard headers, sf-integer)
//   - RateLimit: limit=100, remaining=0, reset=30   (draft-8 combined dictionary)
//
// Returns zero when none is present or parseable.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}

	if v := strings.TrimSpace(h.Get("RateLimit-Reset")); v != "" {
		item, err := httpsfv.UnmarshalItem([]string{v})
		if err == nil {
			if d, ok := seconds(item); ok {
				return d
			}
		}
	}

	if v := strings.TrimSpace(h.Get("RateLimit")); v != "" {
		dict, err := httpsfv.UnmarshalDictionary([]string{v})
		if err != nil {
			return 0
		}
		member, ok := dict.Get("reset")
		if !ok {
			return 0
		}
		item, ok := member.(httpsfv.Item)
		if !ok {
			return 0
		}
		if d, ok := seconds(item); ok {
			return d
		}
	}

	return 0
}

func seconds(item httpsfv.Item) (time.Duration, bool) {
	n, ok := item.Value.(int64)
	if !ok || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
