package domain

import "strings"

type Intent string

const (
	IntentKnowledge Intent = "knowledge_question"
	IntentService   Intent = "service_search"
	IntentBooking   Intent = "booking_intent"
)

// ParseIntent maps classifier output onto the closed intent set. Unknown or
// empty labels yield IntentKnowledge.
func ParseIntent(raw string) Intent {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(IntentService), "service", "service-search":
		return IntentService
	case string(IntentBooking), "booking", "booking-intent":
		return IntentBooking
	default:
		return IntentKnowledge
	}
}
