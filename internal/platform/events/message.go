package events

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/oceanbutterfly/shop-api/internal/platform/textutil"
	"github.com/oceanbutterfly/shop-api/internal/services"
)

// OrderEventMessage is the JSON payload written to every sink.
type OrderEventMessage struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        int64          `json:"orderId"`
	OrderCode      string         `json:"orderCode,omitempty"`
	CustomerID     int64          `json:"customerId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        int64          `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type encoder struct {
	newID   func() string
	marshal func(any) ([]byte, error)
}

func defaultEncoder() encoder {
	return encoder{
		newID:   func() string { return "evt_" + ulid.Make().String() },
		marshal: json.Marshal,
	}
}

func (e encoder) encode(event services.OrderEvent) (OrderEventMessage, []byte, error) {
	msg := OrderEventMessage{
		ID:             e.newID(),
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderCode:      event.OrderCode,
		CustomerID:     event.CustomerID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
	data, err := e.marshal(msg)
	if err != nil {
		return OrderEventMessage{}, nil, err
	}
	return msg, data, nil
}

// attributes lists the routing fields consumers filter on without decoding the payload.
func attributes(msg OrderEventMessage) map[string]string {
	return textutil.CompactStringMap(map[string]string{
		"eventId":   msg.ID,
		"eventType": msg.Type,
		"orderId":   strconv.FormatInt(msg.OrderID, 10),
		"orderCode": msg.OrderCode,
		"status":    msg.CurrentStatus,
	})
}
