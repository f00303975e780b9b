package playbackmodule

import (
	"errors"
	"fmt"
)

// ErrStreamLoadFailed marks a transient load failure that the recovery
// policy may still retry.
var ErrStreamLoadFailed = errors.New("stream failed to load")

// ErrQualityChangeInFlight rejects a quality change while another is
// still settling. Changes are serialized, never interleaved.
var ErrQualityChangeInFlight = errors.New("quality change already in flight")

// ErrSessionClosed rejects commands after teardown started.
var ErrSessionClosed = errors.New("playback session closed")

// FatalError wraps an error past the point of automatic recovery. The
// user-visible message distinguishes transient network trouble from
// unsupported content.
type FatalError struct {
	// Unsupported is true when the failure is a codec/type mismatch
	// rather than connectivity.
	Unsupported bool
	Err         error
}

func (e *FatalError) Error() string {
	if e.Unsupported {
		return fmt.Sprintf("unsupported content: %v", e.Err)
	}
	return fmt.Sprintf("playback failed, check your connection: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether the error is past automatic recovery.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
