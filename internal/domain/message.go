package domain

import "time"

// InboundMessage is a provider message event reduced to what the flow needs.
// ReplyID is set for interactive button and list replies.
type InboundMessage struct {
	ID         string
	From       string
	Type       string
	Text       string
	ReplyID    string
	ReplyTitle string
	Timestamp  time.Time
}
