package cdc

import (
	"context"
	"io"
	"net"
	"syscall"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrInvalidated is returned when the feed emitted an invalidate event and the
	// current resume position can no longer be used
	ErrInvalidated = errors.New("change stream invalidated")

	// ErrFeedExhausted is returned when the feed was closed by the source without an error
	ErrFeedExhausted = errors.New("change stream closed by the source")
)

type FaultClass int

const (
	FaultTransient FaultClass = iota + 1
	FaultInvalidating
	FaultFatal
)

func (f FaultClass) String() string {
	switch f {
	case FaultTransient:
		return "transient"
	case FaultInvalidating:
		return "invalidating"
	case FaultFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FatalError marks faults that must stop the pipeline and be reported to the host
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string {
	return "fatal: " + f.Err.Error()
}

func (f *FatalError) Unwrap() error {
	return f.Err
}

// Fatal wraps err in a FatalError unless it's nil or already fatal
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return err
	}
	return &FatalError{Err: err}
}

const resumableChangeStreamErrorLabel = "ResumableChangeStreamError"

// Server error codes which make the resume position unusable
var invalidatingErrorCodes = []int{
	260, // InvalidResumeToken
	280, // ChangeStreamFatalError
	286, // ChangeStreamHistoryLost
}

// Server error codes which are expected to go away after a reconnect
var transientErrorCodes = []int{
	6,     // HostUnreachable
	7,     // HostNotFound
	89,    // NetworkTimeout
	91,    // ShutdownInProgress
	133,   // FailedToSatisfyReadPreference
	150,   // StaleEpoch
	189,   // PrimarySteppedDown
	234,   // RetryChangeStream
	262,   // ExceededTimeLimit
	9001,  // SocketException
	10107, // NotWritablePrimary
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	13388, // StaleConfig
	13435, // NotPrimaryNoSecondaryOk
	13436, // NotPrimaryOrSecondary
	63,    // StaleShardVersion
}

// Classify maps a feed fault to its fault class
func Classify(err error) FaultClass {
	if err == nil {
		return FaultTransient
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return FaultFatal
	}
	if errors.Is(err, ErrInvalidated) {
		return FaultInvalidating
	}
	if errors.Is(err, mongo.ErrClientDisconnected) || errors.Is(err, context.Canceled) {
		return FaultFatal
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		for _, code := range invalidatingErrorCodes {
			if serverErr.HasErrorCode(code) {
				return FaultInvalidating
			}
		}
		if serverErr.HasErrorLabel(resumableChangeStreamErrorLabel) {
			return FaultTransient
		}
		for _, code := range transientErrorCodes {
			if serverErr.HasErrorCode(code) {
				return FaultTransient
			}
		}
	}

	if isTransientNetworkError(err) {
		return FaultTransient
	}

	return FaultFatal
}

func isTransientNetworkError(err error) bool {
	if errors.Is(err, ErrFeedExhausted) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// PublishError is returned when an event could not be appended to the destination
type PublishError struct {
	Err error
	// Permanent errors (e.g. serialization failures) are not retried
	Permanent bool
}

func (p *PublishError) Error() string {
	return "unable to publish event: " + p.Err.Error()
}

func (p *PublishError) Unwrap() error {
	return p.Err
}

// IsRetryablePublishError returns false for permanent publish errors and cancellations
func IsRetryablePublishError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var publishErr *PublishError
	if errors.As(err, &publishErr) {
		return !publishErr.Permanent
	}
	return true
}
