// health.go tracks each connector's connection health from state already
// collected by the REST client and WebSocket feed, so the detector can
// cheaply check "is this venue trustworthy right now" without an extra
// round trip on the hot scan path.
//
// Grounded in the original implementation's exchange.status property
// (INACTIVE/CONNECTING/ACTIVE), which read the same three signals: WS
// connection state, time since the last WS message, and REST client health.
package exchange

import "time"

// HealthStatus is a point-in-time read of one venue connector's health.
type HealthStatus struct {
	WSConnected    bool
	WSConnectedFor time.Duration
	MessageAge     time.Duration // time since the last WS message of any kind
	RESTLatency    time.Duration
	RESTAge        time.Duration // time since the last successful REST call
	Healthy        bool
}

// evaluateHealth applies the freshness thresholds to raw feed/client state.
// A feed that has never connected, or a REST client that has never completed
// a call, is unhealthy by construction rather than vacuously healthy.
func evaluateHealth(ws *WSFeed, client *Client, maxMessageAge, maxRESTLatency time.Duration) HealthStatus {
	now := time.Now()
	connectedAt := ws.ConnectedAt()
	lastMsg := ws.LastMessageAt()
	latency, lastSuccess := client.Latency()

	status := HealthStatus{
		WSConnected: !connectedAt.IsZero(),
		RESTLatency: latency,
	}
	if status.WSConnected {
		status.WSConnectedFor = now.Sub(connectedAt)
	}
	if lastMsg.IsZero() {
		status.MessageAge = time.Duration(1<<63 - 1)
	} else {
		status.MessageAge = now.Sub(lastMsg)
	}
	if lastSuccess.IsZero() {
		status.RESTAge = time.Duration(1<<63 - 1)
	} else {
		status.RESTAge = now.Sub(lastSuccess)
	}

	if maxMessageAge <= 0 {
		maxMessageAge = 5 * time.Second
	}
	if maxRESTLatency <= 0 {
		maxRESTLatency = 2 * time.Second
	}

	status.Healthy = status.WSConnected &&
		!lastSuccess.IsZero() &&
		status.MessageAge <= maxMessageAge &&
		status.RESTLatency <= maxRESTLatency
	return status
}
