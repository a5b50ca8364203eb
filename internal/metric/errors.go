// v0
// internal/metric/errors.go
package metric

import "errors"

// Failure classes shared by every ingestion path. None of them stops the
// ingestion loop; they decide what gets logged and counted.
var (
	// ErrTransportFailure marks a handshake failure, a timeout, or an
	// exhausted candidate list.
	ErrTransportFailure = errors.New("transport failure")
	// ErrMessageDecode marks a payload that is not a decodable object.
	ErrMessageDecode = errors.New("message decode failure")
	// ErrNormalizationEmpty marks a payload with no recognizable key.
	ErrNormalizationEmpty = errors.New("no known metric keys in payload")
	// ErrFeedFetch marks an unreachable or unparseable tabular feed.
	ErrFeedFetch = errors.New("feed fetch failure")
	// ErrNumericParse marks a single field that could not be parsed.
	ErrNumericParse = errors.New("numeric parse failure")
)

// Reason maps an ingestion error to the short label used by the drop
// counters.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNormalizationEmpty):
		return "normalization_empty"
	case errors.Is(err, ErrMessageDecode):
		return "decode"
	case errors.Is(err, ErrNumericParse):
		return "numeric_parse"
	case errors.Is(err, ErrFeedFetch):
		return "feed_fetch"
	case errors.Is(err, ErrTransportFailure):
		return "transport"
	default:
		return "unknown"
	}
}
