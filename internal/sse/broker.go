// Package sse fans pairing session events out to connect-dialog clients.
// Events go through redis pub/sub so every replica sees sessions driven by
// any of them.
package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/klimadev/chamalead-sub000/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	InstanceID string
	Events     chan Event
	Done       chan struct{}
}

// instanceSub is one per-instance redis subscription and the clients fed by
// it. cancel stops the pubsub goroutine when the last client leaves, so a
// later Subscribe starts a fresh one instead of stacking duplicates.
type instanceSub struct {
	clients map[*Client]bool
	ctx     context.Context
	cancel  context.CancelFunc
}

type Broker struct {
	redis  *redisclient.Client
	subs   map[string]*instanceSub // instanceID -> subscription
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:  redisClient,
		subs:   make(map[string]*instanceSub),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Broker) Subscribe(instanceID string) *Client {
	client := &Client{
		InstanceID: instanceID,
		Events:     make(chan Event, 100),
		Done:       make(chan struct{}),
	}

	b.mu.Lock()
	sub := b.subs[instanceID]
	if sub == nil {
		ctx, cancel := context.WithCancel(b.ctx)
		sub = &instanceSub{
			clients: make(map[*Client]bool),
			ctx:     ctx,
			cancel:  cancel,
		}
		b.subs[instanceID] = sub
		go b.subscribeToRedis(ctx, instanceID)
	}
	sub.clients[client] = true
	clientCount := len(sub.clients)
	b.mu.Unlock()

	log.Info().
		Str("instance", instanceID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[client.InstanceID]
	if !ok {
		return
	}

	delete(sub.clients, client)
	close(client.Done)

	if len(sub.clients) == 0 {
		sub.cancel()
		delete(b.subs, client.InstanceID)
	}

	log.Info().
		Str("instance", client.InstanceID).
		Int("clientCount", len(sub.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, instanceID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.PairingChannel(instanceID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, instanceID string) {
	channel := redisclient.PairingChannel(instanceID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("instance", instanceID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(instanceID, event)
		}
	}
}

func (b *Broker) broadcast(instanceID string, event Event) {
	b.mu.RLock()
	sub := b.subs[instanceID]
	var clients []*Client
	if sub != nil {
		clients = make([]*Client, 0, len(sub.clients))
		for client := range sub.clients {
			clients = append(clients, client)
		}
	}
	b.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("instance", instanceID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		for client := range sub.clients {
			close(client.Done)
		}
	}
	b.subs = make(map[string]*instanceSub)
}

func (b *Broker) ClientCount(instanceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub := b.subs[instanceID]; sub != nil {
		return len(sub.clients)
	}
	return 0
}
