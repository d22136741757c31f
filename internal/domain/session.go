package domain

import (
	"errors"
	"strings"
	"time"
)

// Response is a recorded answer to a single question.
type Response struct {
	Question  string    `json:"question" dynamodbav:"question"`
	Answer    string    `json:"answer" dynamodbav:"answer"`
	Value     string    `json:"value" dynamodbav:"value"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Session is the in-flight qualification conversation for one phone number.
// Responses is keyed by question id; re-answering overwrites.
type Session struct {
	Phone             string              `json:"phoneNumber" dynamodbav:"phoneNumber"`
	LeadID            string              `json:"leadId" dynamodbav:"leadId"`
	CurrentQuestionID string              `json:"currentQuestionId" dynamodbav:"currentQuestionId"`
	Responses         map[string]Response `json:"responses" dynamodbav:"responses"`
	StartedAt         time.Time           `json:"startedAt" dynamodbav:"startedAt"`
	LastActivityAt    time.Time           `json:"lastActivityAt" dynamodbav:"lastActivityAt"`
}

// NewSession creates a session positioned at the entry question.
func NewSession(phone, leadID, entryQuestionID string, now time.Time) Session {
	return Session{
		Phone:             NormalizePhone(phone),
		LeadID:            leadID,
		CurrentQuestionID: entryQuestionID,
		Responses:         map[string]Response{},
		StartedAt:         now,
		LastActivityAt:    now,
	}
}

// Record stores the response for questionID, replacing any earlier answer.
func (s *Session) Record(questionID string, r Response) {
	if s.Responses == nil {
		s.Responses = map[string]Response{}
	}
	s.Responses[questionID] = r
	s.LastActivityAt = r.Timestamp
}

// Clone returns a copy that shares no maps with s.
func (s Session) Clone() Session {
	out := s
	out.Responses = make(map[string]Response, len(s.Responses))
	for k, v := range s.Responses {
		out.Responses[k] = v
	}
	return out
}

// ErrInvalidPhone is returned when a contact number cannot be turned into an
// international number.
var ErrInvalidPhone = errors.New("phone is not a valid international number")

const (
	minPhoneDigits    = 8
	maxPhoneDigits    = 15
	nationalMaxDigits = 10
)

// NormalizePhone strips everything but digits. It does not add a country
// code; see InternationalPhone.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskPhone hides all but the last four digits for logging.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// InternationalPhone converts a stored contact number into the digits-only
// international form the provider reports as the sender. Numbers written
// with "+" or "00" are international as given. A number with a trunk zero or
// at most ten digits is national: the zeros are dropped and
// defaultCountryCode is prepended, or ErrInvalidPhone is returned when no
// default is configured.
func InternationalPhone(raw, defaultCountryCode string) (string, error) {
	raw = strings.TrimSpace(raw)
	digits := NormalizePhone(raw)
	switch {
	case strings.HasPrefix(raw, "+"):
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0") || len(digits) <= nationalMaxDigits:
		cc := NormalizePhone(defaultCountryCode)
		if cc == "" {
			return "", ErrInvalidPhone
		}
		digits = cc + strings.TrimLeft(digits, "0")
	}
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", ErrInvalidPhone
	}
	return digits, nil
}
