// Package connection keeps one duplex connection alive across an unreliable
// transport.
//
// A Manager owns the connection's state machine:
//
//	Idle → Connecting → Open → Closing → Closed
//	              ↘        ↘ (abnormal close)
//	               Reconnecting ←── Closed
//
// Failed opens and abnormal closes schedule a reconnect after a growing delay
// (Policy). Once Policy.MaxAttempts reconnects have failed the manager stays
// Closed and emits a single EventExhausted until a caller starts a new
// episode with Connect or Reconnect. Disconnect closes with code 1000 and
// never reconnects.
//
// Send is only permitted while Open. Payloads sent in any other state are
// dropped and ErrNotOpen is returned; there is no outbound queue.
//
// The transport is pluggable. WebSocketTransport is the gorilla/websocket
// implementation used by connkitd.
package connection
