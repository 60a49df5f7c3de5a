package sources

import (
	"context"
	"errors"
	"strings"

	"github.com/hazyhaar/profmatch/connectivity"
)

var (
	// ErrSourceUnavailable means the capability could not be reached at all
	// (no route, circuit open, process unreachable).
	ErrSourceUnavailable = errors.New("sources: unavailable")

	// ErrRateLimited means the upstream source rejected the call for quota
	// reasons. Retrying immediately will not help.
	ErrRateLimited = errors.New("sources: rate limited")

	// ErrNotFound means the upstream source has no data for the requested
	// entity (e.g. a professor with no scholar record).
	ErrNotFound = errors.New("sources: not found")
)

// mapErr translates transport and tool errors into the package's error
// taxonomy, keeping the original error in the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}

	var notRoutable *connectivity.ErrServiceNotFound
	var circuitOpen *connectivity.ErrCircuitOpen
	if errors.As(err, &notRoutable) || errors.As(err, &circuitOpen) {
		return errors.Join(ErrSourceUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrSourceUnavailable, err)
	}

	// Remote tool errors arrive as opaque messages; classify by content.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"),
		strings.Contains(msg, "quota"):
		return errors.Join(ErrRateLimited, err)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no results"):
		return errors.Join(ErrNotFound, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "unavailable"):
		return errors.Join(ErrSourceUnavailable, err)
	}
	return err
}
