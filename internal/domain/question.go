package domain

// QuestionKind selects how a question is rendered to the lead.
type QuestionKind string

const (
	KindButton QuestionKind = "button"
	KindList   QuestionKind = "list"
)

// Option is one selectable answer of a Question. Description is only shown for
// list questions.
type Option struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Value       string `yaml:"value" json:"value"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Question is a static step of the qualification flow. Next is empty for the
// last question.
type Question struct {
	ID      string       `yaml:"id" json:"id"`
	Prompt  string       `yaml:"prompt" json:"prompt"`
	Kind    QuestionKind `yaml:"kind" json:"kind"`
	Options []Option     `yaml:"options" json:"options"`
	Next    string       `yaml:"next,omitempty" json:"next,omitempty"`
}

// Option returns the option with the given id.
func (q Question) Option(id string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}
