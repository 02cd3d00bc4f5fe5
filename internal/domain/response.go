package domain

type CTAKind string

const (
	CTADownload   CTAKind = "download"
	CTANavigation CTAKind = "navigation"
)

// CTAEntry carries exactly one of URL (download) or Deeplink (navigation).
type CTAEntry struct {
	Kind     CTAKind `json:"kind"`
	Device   Device  `json:"device"`
	Label    string  `json:"label"`
	URL      string  `json:"url,omitempty"`
	Deeplink string  `json:"deeplink,omitempty"`
}

type ResponseType string

const (
	ResponseQnA     ResponseType = "QnA"
	ResponseService ResponseType = "Service"
	ResponseBooking ResponseType = "Booking"
	ResponseError   ResponseType = "Error"
)

const (
	BookingCollecting = "collecting"
	BookingReady      = "ready"
)

// ChatResponse is the outward payload for every chat request, including
// failed ones.
type ChatResponse struct {
	Type           ResponseType `json:"type"`
	ConversationID string       `json:"conversationId,omitempty"`
	AnswerAI       string       `json:"answerAI"`
	Services       []Service    `json:"services,omitempty"`
	Sources        []Source     `json:"sources"`
	Suggestions    []Suggestion `json:"suggestions"`
	CTA            *CTAEntry    `json:"cta,omitempty"`
	Status         string       `json:"status,omitempty"`
	NextAction     string       `json:"nextAction,omitempty"`
	ErrorCode      string       `json:"errorCode,omitempty"`
}
