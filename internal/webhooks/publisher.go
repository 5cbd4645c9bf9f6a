package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"healthnav/internal/store"
)

type Publisher struct {
	Store store.Store
	Log   logr.Logger
}

func NewPublisher(s store.Store, log logr.Logger) *Publisher {
	return &Publisher{Store: s, Log: log}
}

// Emit enqueues an event for every subscription to eventType. Delivery
// happens later in the Worker; failures here are logged, never returned.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		p.Log.Error(err, "lookup subscriptions", "event", eventType)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   "evt_" + uuid.New().String(),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Error(err, "enqueue webhook", "event", eventType, "subscription", s.ID)
		}
	}
}
