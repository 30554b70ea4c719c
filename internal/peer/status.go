package peer

import "github.com/pion/webrtc/v4"

// CallStatus is the lifecycle of one peer connection as shown to the
// participants. It moves forward only; terminal statuses are StatusEnded and
// StatusError.
type CallStatus string

const (
	StatusIdle              CallStatus = "idle"
	StatusLoadingSession    CallStatus = "loading_session"
	StatusWaitingPermission CallStatus = "waiting_permission"
	StatusPermissionGranted CallStatus = "permission_granted"
	StatusConnecting        CallStatus = "connecting"
	StatusConnected         CallStatus = "connected"
	StatusDisconnected      CallStatus = "disconnected"
	StatusError             CallStatus = "error"
	StatusEnded             CallStatus = "ended"
)

// Terminal reports whether no further status change is possible.
func (s CallStatus) Terminal() bool {
	return s == StatusEnded || s == StatusError
}

// statusFromPeerState maps the transport state to a call status. Returns
// false for states that do not change the displayed status on their own
// (new, closed and failed are handled by the manager's own lifecycle).
func statusFromPeerState(s webrtc.PeerConnectionState) (CallStatus, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return StatusConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return StatusConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return StatusDisconnected, true
	default:
		return "", false
	}
}
