// Package protocol defines the yuha request/response envelope.
//
// Envelopes are encoded as CBOR (RFC 8949) maps with text keys, so every
// payload is self-describing and field-named. One encoded envelope travels
// in one frame (see package transport), which bounds an encoded envelope to
// 65535 bytes.
//
// # Requests
//
// A Request names an Operation and carries the operation's parameters:
//
//	{"op": "set_clipboard", "content": "hello"}
//
// # Responses
//
// A Response is exactly one of three variants:
//
//	{"type": "success"}
//	{"type": "error", "message": "unknown operation"}
//	{"type": "data", "items": [{"kind": "text", "text": "hello"}]}
//
// Use Match to consume a Response; it takes one handler per variant.
//
// There is no request identifier. Responses are matched to requests by
// order, so a channel carries at most one outstanding request.
package protocol
