package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"tripc-agent/internal/domain"
)

const (
	entityBookingName   = "booking_name"
	entityBookingEmail  = "booking_email"
	entityBookingPhone  = "booking_phone"
	entityBookingParty  = "booking_party_size"
	entityBookingPlace  = "booking_place"
	entityBookingStatus = "booking_status"
	entityLastService   = "last_service"

	maxBookingNameLen = 100
	maxBookingNoteLen = 1000
)

var (
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	fullEmailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	phonePattern     = regexp.MustCompile(`(?:\+84|0)(?:[ .\-]?\d){8,10}`)
	fullPhonePattern = regexp.MustCompile(`^(?:\+84|0)\d{8,10}$`)
	partyPattern     = regexp.MustCompile(`(?i)(\d{1,2})\s*(?:người|khách|people|persons|guests|pax)\b`)
	namePattern      = regexp.MustCompile(`(?i)\b(?:tên (?:tôi|mình|em|anh|chị) là|tên là|my name is|i am|i'm)\s+(\p{L}+(?:\s+\p{L}+){0,4})`)

	nameStopWords = map[string]struct{}{
		"và": {}, "and": {}, "số": {}, "sdt": {}, "sđt": {}, "email": {}, "phone": {}, "điện": {}, "muốn": {}, "want": {},
	}
)

// bookingDetails are the contact fields gathered across a conversation.
type bookingDetails struct {
	name  string
	email string
	phone string
	place string
	party int
}

func extractBooking(text string) bookingDetails {
	var d bookingDetails
	d.email = emailPattern.FindString(text)
	if m := phonePattern.FindString(text); m != "" {
		d.phone = normalizePhone(m)
	}
	if m := partyPattern.FindStringSubmatch(text); m != nil {
		d.party, _ = strconv.Atoi(m[1])
	}
	if m := namePattern.FindStringSubmatch(text); m != nil {
		var words []string
		for _, w := range strings.Fields(m[1]) {
			if _, stop := nameStopWords[strings.ToLower(w)]; stop {
				break
			}
			words = append(words, w)
		}
		d.name = strings.Join(words, " ")
	}
	return d
}

func (d bookingDetails) hasContact() bool {
	return d.name != "" || d.email != "" || d.phone != ""
}

// meta returns the non-empty fields keyed by entity name.
func (d bookingDetails) meta() map[string]string {
	m := make(map[string]string, 5)
	for k, v := range map[string]string{
		entityBookingName:  d.name,
		entityBookingEmail: d.email,
		entityBookingPhone: d.phone,
		entityBookingPlace: d.place,
	} {
		if v != "" {
			m[k] = v
		}
	}
	if d.party > 0 {
		m[entityBookingParty] = strconv.Itoa(d.party)
	}
	return m
}

// mergeBooking overlays fresh on the values already known for the
// conversation.
func mergeBooking(entities map[string]string, fresh bookingDetails) bookingDetails {
	d := bookingDetails{
		name:  entities[entityBookingName],
		email: entities[entityBookingEmail],
		phone: entities[entityBookingPhone],
		place: entities[entityBookingPlace],
	}
	d.party, _ = strconv.Atoi(entities[entityBookingParty])
	if fresh.name != "" {
		d.name = fresh.name
	}
	if fresh.email != "" {
		d.email = fresh.email
	}
	if fresh.phone != "" {
		d.phone = fresh.phone
	}
	if fresh.place != "" {
		d.place = fresh.place
	}
	if fresh.party > 0 {
		d.party = fresh.party
	}
	return d
}

// nextStep reports the booking status, the next action for the client and the
// prompt to show.
func (d bookingDetails) nextStep(m messageSet) (status, action, text string) {
	switch {
	case d.name == "":
		return domain.BookingCollecting, "provide_name", m.bookingAskName
	case d.phone == "":
		return domain.BookingCollecting, "provide_phone", fmt.Sprintf(m.bookingAskPhone, d.name)
	case d.email == "":
		return domain.BookingCollecting, "provide_email", m.bookingAskEmail
	default:
		return domain.BookingReady, "submit_booking", fmt.Sprintf(m.bookingReady, d.name, d.phone, d.email)
	}
}

func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		if unicode.IsDigit(r) || (i == 0 && r == '+') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type BookingWriter interface {
	SaveBooking(ctx context.Context, rec domain.BookingRecord) error
}

// BookingService records booking requests submitted by the client once the
// contact details are complete. Notification delivery happens downstream of
// the stored record.
type BookingService struct {
	writer BookingWriter
	now    func() time.Time
	logger *slog.Logger
}

func NewBookingService(w BookingWriter, logger *slog.Logger) (*BookingService, error) {
	if w == nil {
		return nil, errors.New("usecase: booking writer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingService{writer: w, now: time.Now, logger: logger}, nil
}

// Submit validates and stores req. The acknowledgement is always usable as a
// response body; err is non-nil whenever Success is false.
func (s *BookingService) Submit(ctx context.Context, req domain.BookingRequest) (domain.BookingAck, error) {
	m := messagesFor(req.Language)

	rec, reason := normalizeBooking(req)
	if reason != "" {
		return domain.BookingAck{Success: false, Message: m.bookingInvalid}, newError(ErrorInvalidInput, reason, nil)
	}
	rec.Reference = newReference()
	rec.CreatedAt = s.now().UTC()

	if err := s.writer.SaveBooking(ctx, rec); err != nil {
		return domain.BookingAck{Success: false, Message: m.bookingFailed}, capabilityError(ctx, "booking_intake", err, ErrorCapabilityFailure)
	}
	s.logger.Info("booking request recorded", "reference", rec.Reference, "conversation_id", rec.ConversationID)
	return domain.BookingAck{
		Success:   true,
		Message:   fmt.Sprintf(m.bookingSaved, rec.Reference),
		Reference: rec.Reference,
	}, nil
}

func normalizeBooking(req domain.BookingRequest) (domain.BookingRecord, string) {
	rec := domain.BookingRecord{
		ConversationID: strings.TrimSpace(req.ConversationID),
		Name:           strings.Join(strings.Fields(req.Name), " "),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:          normalizePhone(req.Phone),
		Note:           strings.TrimSpace(req.Note),
		Place:          strings.TrimSpace(req.Place),
		PartySize:      req.PartySize,
	}
	switch {
	case rec.Name == "":
		return rec, "missing_name"
	case utf8.RuneCountInString(rec.Name) > maxBookingNameLen:
		return rec, "name_too_long"
	case !fullEmailPattern.MatchString(rec.Email):
		return rec, "invalid_email"
	case !fullPhonePattern.MatchString(rec.Phone):
		return rec, "invalid_phone"
	case utf8.RuneCountInString(rec.Note) > maxBookingNoteLen:
		return rec, "note_too_long"
	case rec.PartySize < 0:
		return rec, "invalid_party_size"
	}
	return rec, ""
}

func newReference() string {
	id := strings.ReplaceAll(newUUID(), "-", "")
	return "TRIPC-" + strings.ToUpper(id[:8])
}

var newUUID = func() string {
	return uuid.NewString()
}
