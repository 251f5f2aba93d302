package domain

// ConnectionStatus is the transport state of the game connection.
type ConnectionStatus string

const (
	ConnectionDisconnected       ConnectionStatus = "disconnected"
	ConnectionClosing            ConnectionStatus = "closing"
	ConnectionConnecting         ConnectionStatus = "connecting"
	ConnectionWaitingOnHeartbeat ConnectionStatus = "waitingOnHeartbeat"
	ConnectionReconnecting       ConnectionStatus = "reconnecting"
	ConnectionInterrupted        ConnectionStatus = "interrupted"
	ConnectionUnhealthy          ConnectionStatus = "unhealthy"
	ConnectionReady              ConnectionStatus = "ready"
)

// AllConnectionStatuses lists every status in declaration order.
var AllConnectionStatuses = []ConnectionStatus{
	ConnectionDisconnected,
	ConnectionClosing,
	ConnectionConnecting,
	ConnectionWaitingOnHeartbeat,
	ConnectionReconnecting,
	ConnectionInterrupted,
	ConnectionUnhealthy,
	ConnectionReady,
}

// IsBroken reports whether the connection is gone and will not recover by itself.
func (s ConnectionStatus) IsBroken() bool {
	return s == ConnectionDisconnected || s == ConnectionClosing
}

// IsTroubled reports whether the connection exists but is misbehaving.
func (s ConnectionStatus) IsTroubled() bool {
	switch s {
	case ConnectionReconnecting, ConnectionInterrupted, ConnectionUnhealthy:
		return true
	default:
		return false
	}
}
