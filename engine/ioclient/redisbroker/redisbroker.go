// Package redisbroker is a Redis-backed IoClient: commands are pushed onto a
// per-broker list for an external copy-worker fleet to drain, and responses
// are delivered back over a Redis pub/sub channel. Modeled on the teacher's
// engine/streaming.RedisPublisher (list-plus-pubsub fan-out over
// redis.UniversalClient).
package redisbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/powelleric/cromwell/engine/ioclient"
)

const (
	defaultCommandKey  = "cromwell:io:commands"
	defaultResponseKey = "cromwell:io:responses"
)

// Client dispatches IoCommand over a Redis list and receives IoResponse over
// a Redis pub/sub channel.
type Client struct {
	rdb         redis.UniversalClient
	commandKey  string
	responseKey string
	responses   chan ioclient.IoResponse
}

// Options configures a Client's key names.
type Options struct {
	CommandKey  string
	ResponseKey string
}

// New builds a Client and starts the subscription goroutine that feeds
// Responses(). ctx governs the subscription's lifetime.
func New(ctx context.Context, rdb redis.UniversalClient, opts Options) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redisbroker: client is required")
	}
	c := &Client{
		rdb:         rdb,
		commandKey:  chooseOrDefault(opts.CommandKey, defaultCommandKey),
		responseKey: chooseOrDefault(opts.ResponseKey, defaultResponseKey),
		responses:   make(chan ioclient.IoResponse, 64),
	}
	sub := rdb.Subscribe(ctx, c.responseKey)
	go c.drain(ctx, sub)
	return c, nil
}

var _ ioclient.Client = (*Client)(nil)

// wireResponse is the JSON-safe form of ioclient.IoResponse — error is an
// interface and doesn't round-trip through encoding/json on its own.
type wireResponse struct {
	Command       ioclient.IoCommand  `json:"command"`
	Success       bool                `json:"success"`
	Payload       string              `json:"payload"`
	FailKind      ioclient.IoFailKind `json:"fail_kind,omitempty"`
	ForbiddenPath string              `json:"forbidden_path,omitempty"`
	ErrMsg        string              `json:"err,omitempty"`
}

func (c *Client) Send(ctx context.Context, cmd ioclient.IoCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("redisbroker: marshal command: %w", err)
	}
	if err := c.rdb.RPush(ctx, c.commandKey, payload).Err(); err != nil {
		return fmt.Errorf("redisbroker: dispatch command: %w", err)
	}
	return nil
}

func (c *Client) Responses() <-chan ioclient.IoResponse {
	return c.responses
}

// Publish lets the copy-worker side of the broker (out of this module's
// scope in production, but useful for tests) deliver one response.
func (c *Client) Publish(ctx context.Context, resp ioclient.IoResponse) error {
	wire := wireResponse{
		Command:       resp.Command,
		Success:       resp.Success,
		Payload:       resp.Payload,
		FailKind:      resp.FailKind,
		ForbiddenPath: resp.ForbiddenPath,
	}
	if resp.Err != nil {
		wire.ErrMsg = resp.Err.Error()
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("redisbroker: marshal response: %w", err)
	}
	return c.rdb.Publish(ctx, c.responseKey, payload).Err()
}

func (c *Client) drain(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var wire wireResponse
			if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
				continue
			}
			resp := ioclient.IoResponse{
				Command:       wire.Command,
				Success:       wire.Success,
				Payload:       wire.Payload,
				FailKind:      wire.FailKind,
				ForbiddenPath: wire.ForbiddenPath,
			}
			if wire.ErrMsg != "" {
				resp.Err = errors.New(wire.ErrMsg)
			}
			c.responses <- resp
		case <-ctx.Done():
			return
		}
	}
}

func chooseOrDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
