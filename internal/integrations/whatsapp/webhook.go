package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lead-qualifier/internal/domain"
)

// WebhookPayload is the top-level event delivery.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []Status         `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// InboundMessage is a message sent by a user to the business number.
type InboundMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *InboundText        `json:"text,omitempty"`
	Interactive *InboundInteractive `json:"interactive,omitempty"`
	Button      *InboundButton      `json:"button,omitempty"`
}

type InboundText struct {
	Body string `json:"body"`
}

// InboundInteractive is a reply to a button or list message.
type InboundInteractive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"list_reply,omitempty"`
}

// InboundButton is a tap on a template quick-reply button.
type InboundButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// Status is a delivery status update for a message we sent.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// ParseWebhook decodes an event delivery body.
func ParseWebhook(body []byte) (WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return WebhookPayload{}, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	return p, nil
}

// MessagesFor flattens the message events of entries whose id is accountID,
// in delivery order. An empty accountID matches every entry. Status updates
// and other change fields are skipped.
func (p WebhookPayload) MessagesFor(accountID string) []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		if accountID != "" && entry.ID != accountID {
			continue
		}
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				out = append(out, m.toDomain())
			}
		}
	}
	return out
}

func (m InboundMessage) toDomain() domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:        m.ID,
		From:      domain.NormalizePhone(m.From),
		Type:      m.Type,
		Timestamp: parseUnix(m.Timestamp),
	}
	if m.Text != nil {
		msg.Text = m.Text.Body
	}
	if m.Interactive != nil {
		switch {
		case m.Interactive.ButtonReply != nil:
			msg.ReplyID = m.Interactive.ButtonReply.ID
			msg.ReplyTitle = m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			msg.ReplyID = m.Interactive.ListReply.ID
			msg.ReplyTitle = m.Interactive.ListReply.Title
		}
	}
	if m.Button != nil && msg.Text == "" {
		msg.Text = m.Button.Text
	}
	return msg
}

func parseUnix(ts string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
