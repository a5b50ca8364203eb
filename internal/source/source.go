// v0
// internal/source/source.go
package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
)

// State is the connection state of a data source.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Exhausted
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Exhausted:
		return "exhausted"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for c := Idle; c <= Disconnected; c++ {
		if strings.EqualFold(c.String(), string(b)) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Status is one connection state notification.
type Status struct {
	Source    string    `json:"source"`
	State     State     `json:"state"`
	Candidate int       `json:"candidate"`
	Endpoint  string    `json:"endpoint,omitempty"`
	WalkID    string    `json:"walk_id,omitempty"`
	Err       string    `json:"error,omitempty"`
	Since     time.Time `json:"since"`
}

// ErrCandidatesExhausted is reported after every candidate failed.
var ErrCandidatesExhausted = fmt.Errorf("all candidates failed: %w", metric.ErrTransportFailure)

// RecordFunc receives each normalized record exactly once.
type RecordFunc func(metric.Record)

// StateFunc receives connection state changes.
type StateFunc func(Status)

// DataSource is a real-time telemetry source.
type DataSource interface {
	Name() string
	// Start begins delivering records; it does not block.
	Start(ctx context.Context, onRecord RecordFunc, onState StateFunc) error
	Stop() error
}

// MessageFunc receives one raw inbound payload.
type MessageFunc func(payload []byte)

// LostFunc is called once when an established connection drops.
type LostFunc func(err error)

// Conn is an established transport connection.
type Conn interface {
	Close() error
}

// Dialer opens one transport connection. Dial returns only after the
// handshake and subscription completed or failed, and must honor ctx.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, onMessage MessageFunc, onLost LostFunc) (Conn, error)
}
