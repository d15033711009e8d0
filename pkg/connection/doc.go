// Package connection manages the lifecycle of a yuha connection.
//
// This package handles:
//   - Exponential backoff for reconnection attempts
//   - Jitter to prevent thundering herd
//   - Driving transport.ConnectionState through legal transitions only
//   - Automatic reconnection on connection loss for reconnectable transports
//
// # Reconnection Strategy
//
// When a connection on a reconnectable transport (ssh, tcp) is lost, the
// manager enters reconnecting and retries with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Retry until MaxAttempts is reached (0 retries forever)
//  5. Reset to 1s on successful reconnection
//
// A failed retry with attempts left moves connecting -> reconnecting; the
// last one moves connecting -> failed. Transports that are not
// reconnectable (local, wsl) go straight from connected to failed.
//
// # Jitter
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
