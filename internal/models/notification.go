package models

import "time"

// NotificationLog is one delivery attempt recorded by the dispatcher.
type NotificationLog struct {
	LogID          string    `json:"log_id"`
	OrganizationID string    `json:"organization_id"`
	TicketID       string    `json:"ticket_id,omitempty"`
	Channel        string    `json:"channel"`
	Recipient      string    `json:"recipient"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)
