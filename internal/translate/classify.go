package translate

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
)

// ErrorKind buckets a failed API call into the retry schedule it belongs
// to.
type ErrorKind int

const (
	// KindPermanent: 4xx other than 429, bad API key, malformed response, or
	// a stream that failed after its first chunk. Never retried.
	KindPermanent ErrorKind = iota

	// KindRateLimited: HTTP 429. Retried at 1/2/4 s, up to 3 times.
	KindRateLimited

	// KindServerError: HTTP 5xx. Retried with exponential backoff, up to 2
	// times.
	KindServerError

	// KindTimeout: network timeout or deadline. Retried immediately, once.
	KindTimeout
)

// String returns the kind's log label.
func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindTimeout:
		return "timeout"
	default:
		return "permanent"
	}
}

// statusCodePattern extracts an HTTP status code from provider error text.
// The any-llm-go backends wrap the raw HTTP failure into a plain error, so
// the status is only recoverable from the message.
var statusCodePattern = regexp.MustCompile(`\b(4\d\d|5\d\d)\b`)

// Classify maps err to its ErrorKind. Timeouts are detected structurally
// (net.Error, context deadline); HTTP statuses are sniffed from the error
// text.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}
	// Text already reached the caller; a retry would replay it.
	if errors.Is(err, errStreamFailed) {
		return KindPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if m := statusCodePattern.FindString(err.Error()); m != "" {
		code, _ := strconv.Atoi(m)
		switch {
		case code == 429:
			return KindRateLimited
		case code >= 500:
			return KindServerError
		}
	}
	return KindPermanent
}
