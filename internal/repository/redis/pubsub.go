package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TicketChange is broadcast on ChannelTicketsChanged whenever seats of a
// ticket tier are sold. Subscribers live outside this service.
type TicketChange struct {
	Type     string    `json:"type"`
	TicketID uuid.UUID `json:"ticket_id"`
	EventID  uuid.UUID `json:"event_id"`
	TsUnix   int64     `json:"ts_unix"`
}

type TicketsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewTicketsPubSub(rdb *redis.Client) *TicketsPubSub {
	return &TicketsPubSub{
		rdb:     rdb,
		channel: ChannelTicketsChanged(),
	}
}

func (p *TicketsPubSub) PublishTicketChanged(ctx context.Context, ticketID, eventID uuid.UUID) error {
	b, err := json.Marshal(TicketChange{
		Type:     "ticket_changed",
		TicketID: ticketID,
		EventID:  eventID,
		TsUnix:   time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// TicketNotifier invalidates cached availability and broadcasts the change.
type TicketNotifier struct {
	cache  *Cache
	pubsub *TicketsPubSub
}

func NewTicketNotifier(cache *Cache, pubsub *TicketsPubSub) *TicketNotifier {
	return &TicketNotifier{cache: cache, pubsub: pubsub}
}

func (n *TicketNotifier) TicketChanged(ctx context.Context, ticketID, eventID uuid.UUID) error {
	cacheErr := n.cache.InvalidateTicket(ctx, ticketID)
	if err := n.pubsub.PublishTicketChanged(ctx, ticketID, eventID); err != nil {
		return err
	}

	return cacheErr
}
