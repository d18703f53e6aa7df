package models

import "time"

// NotificationKind separates new-signal messages from outcome messages.
type NotificationKind string

const (
	NotifySignal  NotificationKind = "signal"
	NotifyOutcome NotificationKind = "outcome"
)

// QueueEntry is one pending notification.
type QueueEntry struct {
	Kind          NotificationKind `json:"kind"`
	Key           string           `json:"key"`
	Signal        *Signal          `json:"signal"`
	Attempt       int              `json:"attempt"`
	NextAttemptAt time.Time        `json:"next_attempt_at"`
	LastError     string           `json:"last_error,omitempty"`
	EnqueuedAt    time.Time        `json:"enqueued_at"`
}

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryRecord marks a notification key as handled on a channel.
type DeliveryRecord struct {
	Key         string         `json:"key"`
	Channel     string         `json:"channel"`
	DeliveredAt time.Time      `json:"delivered_at"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
}
