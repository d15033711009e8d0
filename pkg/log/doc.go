// Package log provides protocol event capture for yuha channels.
//
// Protocol capture is separate from operational logging (slog). A Logger
// receives one Event per frame, decoded message, connection state change or
// error, giving a machine-readable trace of a controller/agent session.
//
// # Basic Usage
//
//	// Console output during development
//	logger := log.NewSlogAdapter(slog.Default())
//
//	// Binary capture for later analysis with "yuha log view"
//	fileLogger, _ := log.NewFileLogger("/tmp/yuha.ylog")
//
//	// Both
//	logger := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fileLogger)
//
// # Layers
//
//   - Transport: raw frames (FrameEvent)
//   - Wire: decoded requests and responses (MessageEvent)
//   - Connection: state machine transitions (StateChangeEvent)
//
// Errors at any layer are captured as ErrorEventData.
//
// # File Format
//
// Capture files are a concatenation of CBOR-encoded events (.ylog).
package log
