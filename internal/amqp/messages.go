package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"subtrack/internal/core"
)

// ReminderMessage announces that a subscription renews soon. Delivery to the
// user is left to whoever consumes the queue.
type ReminderMessage struct {
	SubscriptionID string     `json:"subscription_id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	Amount         core.Money `json:"amount"`
	RenewalDate    core.Date  `json:"renewal_date"`
	DaysUntil      int        `json:"days_until"`
	Email          bool       `json:"email"`
	Push           bool       `json:"push"`
	Timestamp      time.Time  `json:"timestamp"`
}

// NewReminderMessage builds a reminder for sub, routed per the user's channel
// preferences.
func NewReminderMessage(sub core.Subscription, daysUntil int, prefs core.UserPreferences) *ReminderMessage {
	return &ReminderMessage{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Name:           sub.Name,
		Amount:         sub.Amount,
		RenewalDate:    sub.RenewalDate,
		DaysUntil:      daysUntil,
		Email:          prefs.EmailNotifications,
		Push:           prefs.PushNotifications,
		Timestamp:      time.Now(),
	}
}

func (m *ReminderMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ReminderMessageFromJSON(data []byte) (*ReminderMessage, error) {
	var msg ReminderMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.SubscriptionID == "" || msg.UserID == "" {
		return nil, fmt.Errorf("reminder message missing subscription or user id")
	}
	return &msg, nil
}

// EventType is the kind of change a SubscriptionEvent describes.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// SubscriptionEvent is a lightweight change notification. Consumers fetch the
// current row themselves.
type SubscriptionEvent struct {
	Type           EventType `json:"type"`
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewSubscriptionEvent(eventType EventType, subscriptionID, userID string) *SubscriptionEvent {
	return &SubscriptionEvent{
		Type:           eventType,
		SubscriptionID: subscriptionID,
		UserID:         userID,
		Timestamp:      time.Now(),
	}
}

func (e *SubscriptionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func SubscriptionEventFromJSON(data []byte) (*SubscriptionEvent, error) {
	var evt SubscriptionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	switch evt.Type {
	case EventCreated, EventUpdated, EventDeleted:
	default:
		return nil, fmt.Errorf("unknown subscription event type %q", evt.Type)
	}
	return &evt, nil
}
