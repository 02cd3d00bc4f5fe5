package domain

import "time"

type BookingRequest struct {
	ConversationID string
	Name           string
	Email          string
	Phone          string
	Note           string
	Place          string
	PartySize      int
	Language       Language
}

type BookingRecord struct {
	Reference      string
	ConversationID string
	Name           string
	Email          string
	Phone          string
	Note           string
	Place          string
	PartySize      int
	CreatedAt      time.Time
}

type BookingAck struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}
