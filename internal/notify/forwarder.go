package notify

import (
	"context"

	"tailorhub/internal/common/events"
	"tailorhub/internal/common/middleware"
)

// Forwarder publishes notification requests for the notifier process.
type Forwarder struct {
	publisher events.Publisher
}

var _ Notifier = (*Forwarder)(nil)

func NewForwarder(publisher events.Publisher) *Forwarder {
	return &Forwarder{publisher: publisher}
}

func (f *Forwarder) Notify(ctx context.Context, userID, title, body string) error {
	evt, err := events.NewEvent(events.EventNotificationRequested, events.AggregateUser, userID, events.NotificationRequestedData{
		UserID: userID,
		Title:  title,
		Body:   body,
	})
	if err != nil {
		return err
	}
	evt.WithCorrelation(middleware.GetCorrelationID(ctx))
	return f.publisher.Publish(ctx, evt)
}
