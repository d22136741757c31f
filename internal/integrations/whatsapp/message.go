package whatsapp

const (
	messagingProduct = "whatsapp"
	recipientType    = "individual"
)

// Envelope is the request body of the messages endpoint.
type Envelope struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *Text        `json:"text,omitempty"`
	Template         *Template    `json:"template,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
}

// Kind names the envelope shape: text, template, button or list.
func (e Envelope) Kind() string {
	if e.Type == "interactive" && e.Interactive != nil {
		return e.Interactive.Type
	}
	return e.Type
}

type Text struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type Template struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters"`
}

type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Interactive struct {
	Type   string            `json:"type"`
	Body   InteractiveBody   `json:"body"`
	Action InteractiveAction `json:"action"`
}

type InteractiveBody struct {
	Text string `json:"text"`
}

type InteractiveAction struct {
	Buttons  []Button  `json:"buttons,omitempty"`
	Button   string    `json:"button,omitempty"`
	Sections []Section `json:"sections,omitempty"`
}

type Button struct {
	Type  string      `json:"type"`
	Reply ButtonReply `json:"reply"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Section and Row make up a list message.
type Section struct {
	Title string `json:"title"`
	Rows  []Row  `json:"rows"`
}

type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SendResult is the provider response to a successful send.
type SendResult struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MessageID returns the id of the first accepted message, if any.
func (r SendResult) MessageID() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

func envelope(to, typ string) Envelope {
	return Envelope{
		MessagingProduct: messagingProduct,
		RecipientType:    recipientType,
		To:               to,
		Type:             typ,
	}
}

// TextMessage builds a plain text message.
func TextMessage(to, body string) Envelope {
	e := envelope(to, "text")
	e.Text = &Text{Body: body}
	return e
}

// TemplateMessage builds a template message whose body parameters are filled
// in order.
func TemplateMessage(to, name, language string, params ...string) Envelope {
	e := envelope(to, "template")
	e.Template = &Template{Name: name, Language: TemplateLanguage{Code: language}}
	if len(params) > 0 {
		body := TemplateComponent{Type: "body", Parameters: make([]TemplateParameter, 0, len(params))}
		for _, p := range params {
			body.Parameters = append(body.Parameters, TemplateParameter{Type: "text", Text: p})
		}
		e.Template.Components = []TemplateComponent{body}
	}
	return e
}

// ButtonMessage builds an interactive reply-button message.
func ButtonMessage(to, body string, buttons []ButtonReply) Envelope {
	e := envelope(to, "interactive")
	action := InteractiveAction{Buttons: make([]Button, 0, len(buttons))}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, Button{Type: "reply", Reply: b})
	}
	e.Interactive = &Interactive{Type: "button", Body: InteractiveBody{Text: body}, Action: action}
	return e
}

// ListMessage builds an interactive list message with a single section.
func ListMessage(to, body, buttonLabel, sectionTitle string, rows []Row) Envelope {
	e := envelope(to, "interactive")
	e.Interactive = &Interactive{
		Type: "list",
		Body: InteractiveBody{Text: body},
		Action: InteractiveAction{
			Button:   buttonLabel,
			Sections: []Section{{Title: sectionTitle, Rows: rows}},
		},
	}
	return e
}
