package store

// WebhookDelivery is one queued outbound event for one subscription.
type WebhookDelivery struct {
    ID             string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string // pending, retry, delivered, failed
    Attempts       int
}
