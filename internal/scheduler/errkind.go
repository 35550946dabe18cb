// Package scheduler implements the merge-queue algorithm of §4.6: which
// pull request (or rollup) to build next, how to ask the host for an
// integration commit, and how to fast-forward the protected branch once
// every required builder is green.
package scheduler

import (
	"context"
	"errors"

	"github.com/homu-project/homu/internal/ciprovider"
	"github.com/homu-project/homu/internal/hostclient"
)

// ErrorKind is one of the six error categories of §7.
type ErrorKind int

const (
	KindTransientIO ErrorKind = iota
	KindHostRefusal
	KindCIFailure
	KindBadCommand
	KindAuthFailure
	KindInternalInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientIO:
		return "transient_io"
	case KindHostRefusal:
		return "host_refusal"
	case KindCIFailure:
		return "ci_failure"
	case KindBadCommand:
		return "bad_command"
	case KindAuthFailure:
		return "auth_failure"
	case KindInternalInvariant:
		return "internal_invariant"
	default:
		return "unknown"
	}
}

// Classify assigns err to one of §7's error kinds. Sentinel errors from
// hostclient and ciprovider map directly; everything else (network
// timeouts, unrecognized 5xx wrapped by a host client) is treated as
// transient, since a bounded retry is always safe and the classification
// only ever widens on the next pass through the loop that calls it.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, hostclient.ErrConflict), errors.Is(err, hostclient.ErrNotFound):
		return KindHostRefusal
	case errors.Is(err, ciprovider.ErrAuthFailure):
		return KindAuthFailure
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransientIO
	default:
		return KindTransientIO
	}
}
