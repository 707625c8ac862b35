package vpn

import (
	"fmt"

	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/locator"
)

// Phase represents the orchestrator's position in the connect sequence.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhasePreparing
	PhaseWaitingForIP
	PhaseVerifyingReachability
	PhaseConnected
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhasePreparing:
		return "preparing"
	case PhaseWaitingForIP:
		return "waiting_for_ip"
	case PhaseVerifyingReachability:
		return "verifying_reachability"
	case PhaseConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Checks are the probe results of the last reachability attempt.
type Checks struct {
	Ping bool `json:"ping"`
	TCP  bool `json:"tcp"`
}

// ConnectionStatus is the orchestrator's observable state. IsConnected
// holds only when VPNIP is set and both checks passed.
type ConnectionStatus struct {
	IsConnected     bool           `json:"is_connected"`
	VPNIP           string         `json:"vpn_ip,omitempty"`
	DeviceReachable bool           `json:"device_reachable"`
	PID             int            `json:"pid,omitempty"`
	ProfileName     string         `json:"profile_name"`
	LogPath         string         `json:"log_path"`
	Checks          Checks         `json:"checks"`
	ElapsedSeconds  float64        `json:"elapsed_seconds"`
	Method          locator.Method `json:"method,omitempty"`
	Phase           Phase          `json:"phase"`
	Message         string         `json:"message,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       fault.Kind     `json:"error_kind,omitempty"`
}

func (s *ConnectionStatus) fail(err error) {
	s.IsConnected = false
	s.Phase = PhaseDisconnected
	s.Error = err.Error()
	s.ErrorKind = fault.KindOf(err)
}
