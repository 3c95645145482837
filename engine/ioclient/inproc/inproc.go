// Package inproc is a channel-backed IoClient for single-process
// deployments and tests: Send enqueues a copy onto a worker goroutine pool,
// which performs the copy against the local filesystem and publishes the
// result on Responses.
package inproc

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/powelleric/cromwell/engine/ioclient"
)

// Client is the in-process IoClient.
type Client struct {
	commands  chan ioclient.IoCommand
	responses chan ioclient.IoResponse
}

// New starts a Client with workerCount goroutines draining the dispatch
// queue. ctx governs the worker goroutines' lifetime.
func New(ctx context.Context, workerCount int, queueDepth int) *Client {
	c := &Client{
		commands:  make(chan ioclient.IoCommand, queueDepth),
		responses: make(chan ioclient.IoResponse, queueDepth),
	}
	for i := 0; i < workerCount; i++ {
		go c.worker(ctx)
	}
	return c
}

var _ ioclient.Client = (*Client)(nil)

func (c *Client) Send(ctx context.Context, cmd ioclient.IoCommand) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Responses() <-chan ioclient.IoResponse {
	return c.responses
}

func (c *Client) worker(ctx context.Context) {
	for {
		select {
		case cmd, ok := <-c.commands:
			if !ok {
				return
			}
			c.responses <- copyFile(cmd)
		case <-ctx.Done():
			return
		}
	}
}

func copyFile(cmd ioclient.IoCommand) ioclient.IoResponse {
	src, err := os.Open(cmd.Source)
	if err != nil {
		return ioclient.IoResponse{Command: cmd, FailKind: ioclient.IoFailGeneric, Err: err}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(cmd.Destination), 0o755); err != nil {
		return ioclient.IoResponse{Command: cmd, FailKind: ioclient.IoFailGeneric, Err: err}
	}
	dst, err := os.Create(cmd.Destination)
	if err != nil {
		return ioclient.IoResponse{Command: cmd, FailKind: ioclient.IoFailGeneric, Err: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return ioclient.IoResponse{Command: cmd, FailKind: ioclient.IoFailGeneric, Err: err}
	}
	return ioclient.IoResponse{Command: cmd, Success: true, Payload: cmd.Destination}
}
