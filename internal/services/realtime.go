package services

import (
	"log/slog"

	pubnub "github.com/pubnub/go/v7"
)

// PubNubPublisher pushes order updates to the per-order channel a checkout
// page subscribes to while polling for confirmation.
type PubNubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(publishKey, subscribeKey, uuid string) *PubNubPublisher {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(uuid))
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey

	return &PubNubPublisher{pn: pubnub.NewPubNub(cfg)}
}

// PaymentSucceeded publishes the settled outcome on the order channel.
// Delivery is best effort; the client poll endpoint is the fallback.
func (p *PubNubPublisher) PaymentSucceeded(bulkOrderID string, outcome *Outcome) {
	channel := "order." + bulkOrderID

	_, pnStatus, err := p.pn.Publish().
		Channel(channel).
		Message(map[string]any{
			"event":       "payment_success",
			"bulkOrderId": bulkOrderID,
			"status":      outcome.Status,
			"reference":   outcome.Reference,
		}).
		Execute()
	if err != nil || pnStatus.Error != nil {
		slog.Warn("failed to publish order update", "channel", channel, "error", err)
		return
	}

	slog.Debug("order update published", "channel", channel)
}
