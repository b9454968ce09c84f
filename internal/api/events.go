package api

import (
	"time"

	"github.com/nerrad567/tierlist-core/internal/audit"
	"github.com/nerrad567/tierlist-core/internal/auth"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tierlist-core/internal/tierlist"
)

// WebSocket channels for domain changes.
const (
	ChannelTierChanged = "tier.changed"
	ChannelItemChanged = "item.changed"
)

// changeEvent is the WebSocket payload for a tier or item mutation.
type changeEvent struct {
	Action string `json:"action"`
	ID     string `json:"id"`
	TierID string `json:"tier_id,omitempty"`
	Actor  string `json:"actor,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// publishTier announces a tier mutation to WebSocket subscribers and, when
// configured, to MQTT. Private tiers reach only their owner and admins.
func (s *Server) publishTier(action string, tier *tierlist.Tier, actor string) {
	var data any
	if action != audit.ActionDelete {
		data = tier
	}
	s.publish(audit.EntityTier, ChannelTierChanged, action, tier.ID, tierResource(tier), actor, changeEvent{
		Action: action,
		ID:     tier.ID,
		TierID: tier.ID,
		Actor:  actor,
		Data:   data,
	})
}

// publishItem announces an item mutation. Visibility follows the item's tier.
func (s *Server) publishItem(action string, item *tierlist.Item, tier *tierlist.Tier, actor string) {
	var data any
	if action != audit.ActionDelete {
		data = item
	}
	s.publish(audit.EntityItem, ChannelItemChanged, action, item.ID, tierResource(tier), actor, changeEvent{
		Action: action,
		ID:     item.ID,
		TierID: item.TierID,
		Actor:  actor,
		Data:   data,
	})
}

// publish fans payload out to the hub and the event publisher. Only the
// owner of res and admins receive it unless res is public.
func (s *Server) publish(entity, channel, action, id string, res auth.Resource, actor string, payload changeEvent) {
	s.hub.BroadcastScoped(channel, payload, res)

	if s.events == nil {
		return
	}
	err := s.events.PublishEvent(mqtt.Event{
		Entity:    entity,
		Action:    action,
		ID:        id,
		Owner:     res.Owner,
		Public:    res.Public,
		Actor:     actor,
		Data:      payload.Data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("publishing domain event failed",
			"entity", entity,
			"action", action,
			"id", id,
			"error", err,
		)
	}
}
