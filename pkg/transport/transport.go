package transport

import (
    "context"
    "errors"
)

// ErrClosed is returned by Publish/Subscribe once the bus is closed or its
// connection is lost. Receivers treat it as fatal for the node.
var ErrClosed = errors.New("transport: closed")

// Bus is a fire-and-forget multicast transport with topic-based delivery.
//
// Delivery is at-least-once and unordered across publishers; messages from a
// single publisher on one topic arrive in publish order where the underlying
// medium allows it. A publisher that is subscribed to a topic receives its own
// messages.
type Bus interface {
    // Publish sends data to every current subscriber of topic. It does not
    // wait for delivery.
    Publish(ctx context.Context, topic string, data []byte) error
    // Subscribe returns a channel of payloads published to topic. The channel
    // is closed when ctx is done or when the bus is closed; a closed channel
    // with ctx still live means the transport was lost. Resubscribe to
    // restart a sequence.
    Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
    // Close releases the underlying connection.
    Close() error
}
