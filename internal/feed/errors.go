package feed

import "fmt"

// ConfigurationError reports a client that cannot make a request at all,
// typically because no API key was configured.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "feed misconfigured: " + e.Reason
}

// UpstreamError reports a non-2xx response from the feed.
type UpstreamError struct {
	StatusCode int
	// Excerpt holds at most ExcerptLimit bytes of the response body.
	Excerpt string
}

func (e *UpstreamError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("feed returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("feed returned status %d: %s", e.StatusCode, e.Excerpt)
}

// DecodeError reports a body that is not a GTFS-RT FeedMessage.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode feed: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnavailableError reports a transport failure, a timeout or an unreadable
// body.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "feed unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }
