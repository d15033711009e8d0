// Package agent implements the remote side of a yuha connection.
//
// An agent runs next to the user's remote session: over stdio when started
// by the local, SSH or WSL transports, or on a TCP listener. It answers one
// request at a time with the response the registered Handler produces.
//
//	svc := agent.Services{Clipboard: agent.NewMemoryClipboard()}
//	ch := transport.NewMessageChannel(transport.StdioStream(), transport.KindLocal)
//	err := agent.Serve(ctx, ch, svc.Mux())
package agent
