package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuha-project/yuha-go/pkg/protocol"
	"github.com/yuha-project/yuha-go/pkg/transport"
)

// MalformedRequest is the error message sent for a request that fails to
// decode. The session ends after it is sent.
const MalformedRequest = "malformed request"

// Serve answers requests on ch until the peer closes it, a request fails
// to decode, or ctx is cancelled. A clean close by the peer returns nil.
// Serve closes ch before returning.
func Serve(ctx context.Context, ch *transport.MessageChannel, h Handler) error {
	defer ch.Close()

	// Cancellation must unblock a pending Receive.
	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	for {
		req, err := ch.ReceiveRequest()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrChannelClosed) {
				return nil
			}
			var serr *transport.SerializationError
			if errors.As(err, &serr) {
				reply := protocol.ErrorResponse{Message: MalformedRequest}
				if sendErr := ch.SendResponse(reply); sendErr != nil {
					return errors.Join(err, sendErr)
				}
			}
			return err
		}

		resp := dispatch(ctx, h, req)
		err = ch.SendResponse(resp)
		if unsendable(err) {
			// Nothing was written; the request still gets an answer.
			err = ch.SendResponse(protocol.ErrorResponse{Message: fmt.Sprintf("%s: %v", req.Op, err)})
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrChannelClosed) {
				return nil
			}
			return err
		}
	}
}

// dispatch runs h, turning a nil response into Success and a panic into
// an error response.
func dispatch(ctx context.Context, h Handler, req *protocol.Request) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = protocol.ErrorResponse{Message: fmt.Sprintf("%s: internal error: %v", req.Op, r)}
		}
	}()
	resp = h.ServeRequest(ctx, req)
	if resp == nil {
		resp = protocol.Success()
	}
	return resp
}

func unsendable(err error) bool {
	var serr *transport.SerializationError
	var overflow *transport.BufferOverflowError
	return errors.As(err, &serr) || errors.As(err, &overflow)
}
