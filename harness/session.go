package harness

import (
	"context"
	"errors"
	"strings"
)

// ErrSessionClosed is returned by a Tab used after its browser went away.
var ErrSessionClosed = errors.New("harness: browser session closed")

// PageState is what the fixture page reports through its global flags.
type PageState struct {
	Ready bool
	Error string
}

// Tab is one browser tab rendering fixtures sequentially.
type Tab interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// State reads the ready flag and error field in one evaluation.
	State(ctx context.Context) (PageState, error)
	// Capture waits for the map canvas and returns it as PNG. pixelRatio
	// above 1 reads the canvas backing store instead of its CSS box.
	Capture(ctx context.Context, pixelRatio float64) ([]byte, error)
	Close() error
}

// Browser opens tabs and can restart its rendering process.
type Browser interface {
	Open(ctx context.Context) (Tab, error)
	Recycle(ctx context.Context) error
	Close() error
}

var infraMarkers = []string{"closed", "crashed", "disconnected"}

// IsInfraError reports whether err means the browser session itself failed
// rather than the fixture content. Only these count toward the breaker.
func IsInfraError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range infraMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
