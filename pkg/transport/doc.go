// Package transport provides the yuha transport layer.
//
// The transport layer handles:
//   - Transport kinds and their capability table
//   - The connection state machine
//   - Length-prefixed message framing over any byte stream
//   - Request/response envelopes over a framed channel
//   - Concrete transports: SSH, local process, WSL and TCP (optionally TLS)
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   CBOR Request / Response      │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (2B)   │
//	├────────────────────────────────┤
//	│  SSH session │ stdio │ TCP/TLS │
//	└────────────────────────────────┘
//
// # Framing
//
// Each frame is a 2-byte big-endian length followed by exactly that many
// payload bytes, so a payload carries at most 65535 bytes. Zero-length
// frames are legal. Header and payload go out in one write and the stream
// is flushed afterwards when it supports flushing.
//
// A Framer and a MessageChannel are owned by a single goroutine. They carry
// no locks; concurrent callers must serialize access themselves (package
// client does this).
package transport
