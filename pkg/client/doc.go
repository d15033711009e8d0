// Package client is the controller side of a yuha connection.
//
// A Client owns one MessageChannel through a single goroutine. Calls from
// any number of goroutines are queued and run one at a time, which keeps
// exactly one request outstanding on the wire as the protocol requires.
//
// Cancelling the context of a call that is already on the wire cannot be
// undone: its response would arrive later and be taken as the answer to
// the next request. The client therefore closes the channel and becomes
// faulted. A client from New stays faulted and every later call returns
// ErrClientFaulted. A client over a ChannelSource returns ErrClientFaulted
// only while the source still serves the abandoned channel, and recovers
// once it hands out a new one.
//
// A response that cannot be decoded also drops the channel, since the
// peer no longer speaks the protocol.
//
//	c, err := client.Dial(ctx, &transport.TCPTransport{Address: "host:7421"})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	text, err := c.GetClipboard(ctx)
package client
