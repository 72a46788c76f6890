package falcon

import "strings"

// retryableSubstrings: only errors whose message matches one of these are
// retried; anything else is not.
var retryableSubstrings = []string{
	"resolve",
	"connection",
	"network",
	"timeout",
	"dns",
}

// isRetryableError reports whether err is worth a retry attempt under the
// exponential-backoff policy.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, substr := range retryableSubstrings {
		if strings.Contains(errStr, substr) {
			return true
		}
	}

	return false
}
