// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the moderation engine and the platform adapters. It handles
// connection lifecycle, subject-based subscriptions, and convenience
// methods for the moderation channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used by the moderation engine.
const (
	SubjectInbound   = "moderation.inbound"           // messages to moderate, queue-grouped
	SubjectAction    = "moderation.action"            // + .<chat_id>, enforcement actions out
	SubjectSetMode   = "moderation.config.set_mode"   // request/reply mode changes
	SubjectResetUser = "moderation.config.reset_user" // request/reply administrative tier reset
	SubjectBanUser   = "moderation.config.ban_user"   // request/reply manual perm-ban
	SubjectUnbanUser = "moderation.config.unban_user" // request/reply manual unban
	SubjectStats     = "moderation.stats"             // request/reply per-chat statistics
)

// inboundQueue is the queue group for inbound consumers: multiple engine
// instances share the stream without duplicating work.
const inboundQueue = "moderation-engine"

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "flushguard",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeInbound subscribes to inbound messages as part of the engine
// queue group, so horizontally scaled instances split the stream.
func (c *NATSClient) SubscribeInbound(handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectInbound, inboundQueue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectInbound, err)
	}

	c.mu.Lock()
	c.subs[SubjectInbound] = sub
	c.mu.Unlock()
	return nil
}

// PublishInbound publishes a message for moderation. Used by adapters and
// by the sweep replaying backlog through the live pipeline path.
func (c *NATSClient) PublishInbound(data []byte) error {
	return c.Publish(SubjectInbound, data)
}

// PublishAction publishes an enforcement action to the chat's action subject.
func (c *NATSClient) PublishAction(chatID string, data []byte) error {
	return c.Publish(SubjectAction+"."+chatID, data)
}

// SubscribeActions subscribes to enforcement actions for a specific chat.
func (c *NATSClient) SubscribeActions(chatID string, handler func(data []byte)) error {
	subject := SubjectAction + "." + chatID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// SubscribeSetMode registers the request/reply handler for mode changes.
// The handler's return value is sent back to the requester.
func (c *NATSClient) SubscribeSetMode(handler func(data []byte) []byte) error {
	return c.subscribeReply(SubjectSetMode, handler)
}

// SubscribeResetUser registers the request/reply handler for administrative
// tier resets.
func (c *NATSClient) SubscribeResetUser(handler func(data []byte) []byte) error {
	return c.subscribeReply(SubjectResetUser, handler)
}

// SubscribeBanUser registers the request/reply handler for manual bans.
func (c *NATSClient) SubscribeBanUser(handler func(data []byte) []byte) error {
	return c.subscribeReply(SubjectBanUser, handler)
}

// SubscribeUnbanUser registers the request/reply handler for manual unbans.
func (c *NATSClient) SubscribeUnbanUser(handler func(data []byte) []byte) error {
	return c.subscribeReply(SubjectUnbanUser, handler)
}

// SubscribeStats registers the request/reply handler for per-chat stats.
func (c *NATSClient) SubscribeStats(handler func(data []byte) []byte) error {
	return c.subscribeReply(SubjectStats, handler)
}

// RequestSetMode issues a mode-change request and waits for the reply.
func (c *NATSClient) RequestSetMode(data []byte, timeout time.Duration) ([]byte, error) {
	msg, err := c.conn.Request(SubjectSetMode, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", SubjectSetMode, err)
	}
	return msg.Data, nil
}

// RequestStats issues a stats query and waits for the reply.
func (c *NATSClient) RequestStats(data []byte, timeout time.Duration) ([]byte, error) {
	msg, err := c.conn.Request(SubjectStats, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", SubjectStats, err)
	}
	return msg.Data, nil
}

func (c *NATSClient) subscribeReply(subject string, handler func(data []byte) []byte) error {
	return c.Subscribe(subject, func(msg *nats.Msg) {
		reply := handler(msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			log.Printf("[nats] respond %s: %v", subject, err)
		}
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
