// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection control message rate limiting
	RateLimitMessages = 20          // Max control messages per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Write deadline for outbound WebSocket messages; a stalled client is
	// dropped rather than allowed to back up the event feed.
	WriteTimeout = 5 * time.Second
)
