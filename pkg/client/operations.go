package client

import (
	"context"

	"github.com/yuha-project/yuha-go/pkg/protocol"
)

// GetClipboard returns the remote clipboard text.
func (c *Client) GetClipboard(ctx context.Context) (string, error) {
	resp, err := c.Call(ctx, protocol.GetClipboard())
	if err != nil {
		return "", err
	}
	texts, err := protocol.ExtractTexts(resp)
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		return "", nil
	}
	return texts[0], nil
}

// SetClipboard replaces the remote clipboard text.
func (c *Client) SetClipboard(ctx context.Context, content string) error {
	return c.expectSuccess(ctx, protocol.SetClipboard(content))
}

// OpenBrowser asks the remote side to open url.
func (c *Client) OpenBrowser(ctx context.Context, url string) error {
	return c.expectSuccess(ctx, protocol.OpenBrowser(url))
}

// StartPortForward forwards localPort to remoteHost:remotePort.
func (c *Client) StartPortForward(ctx context.Context, localPort uint16, remoteHost string, remotePort uint16) error {
	return c.expectSuccess(ctx, protocol.StartPortForward(localPort, remoteHost, remotePort))
}

// StopPortForward stops the forward on localPort.
func (c *Client) StopPortForward(ctx context.Context, localPort uint16) error {
	return c.expectSuccess(ctx, protocol.StopPortForward(localPort))
}

// ListPortForwards returns the active forwards as reported by the agent.
func (c *Client) ListPortForwards(ctx context.Context) ([]string, error) {
	resp, err := c.Call(ctx, protocol.ListPortForwards())
	if err != nil {
		return nil, err
	}
	return protocol.ExtractTexts(resp)
}

// Ping checks that the agent answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.expectSuccess(ctx, protocol.Ping())
}

func (c *Client) expectSuccess(ctx context.Context, req *protocol.Request) error {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	return protocol.ExpectSuccess(resp)
}
