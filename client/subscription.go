package client

import (
	"context"
	"fmt"

	"github.com/pengcunfu/YushuRobotPPT2IMG/stream"
)

// Watch subscribes to lifecycle events for a job and returns a channel of
// events. The channel is closed by Unwatch or Close. Slow receivers miss
// events rather than stalling the connection; Job always has the
// authoritative state.
func (c *Client) Watch(ctx context.Context, taskID string) (<-chan *stream.Event, error) {
	if err := c.ensureConn(ctx); err != nil {
		return nil, err
	}

	topic := stream.JobTopic(taskID)
	ch := make(chan *stream.Event, 64)
	c.subs.Store(topic, ch)

	if err := c.writeAction("subscribe", taskID); err != nil {
		c.subs.Delete(topic)
		return nil, fmt.Errorf("ppt2img/client: subscribe %s: %w", taskID, err)
	}
	return ch, nil
}

// Unwatch removes a job subscription and closes its channel.
func (c *Client) Unwatch(ctx context.Context, taskID string) error {
	topic := stream.JobTopic(taskID)
	val, ok := c.subs.LoadAndDelete(topic)
	if !ok {
		return nil
	}
	close(val.(chan *stream.Event))
	return c.writeAction("unsubscribe", taskID)
}
