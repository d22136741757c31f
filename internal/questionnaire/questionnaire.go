// Package questionnaire holds the static qualification question graph and its
// scoring table. A Questionnaire is immutable after Load and safe for
// concurrent use.
package questionnaire

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"lead-qualifier/internal/domain"
)

const (
	// MaxScore is the highest weight a single answer can carry.
	MaxScore = 3
	minScore = 1

	maxButtonOptions     = 3
	maxListOptions       = 10
	maxButtonTitleLength = 20
	maxListTitleLength   = 24
)

//go:embed default.yaml
var defaultYAML []byte

type file struct {
	Questions []domain.Question         `yaml:"questions"`
	Scoring   map[string]map[string]int `yaml:"scoring"`
}

// Questionnaire is a validated, linear chain of questions plus per-answer weights.
type Questionnaire struct {
	entry     string
	order     []string
	questions map[string]domain.Question
	scoring   map[string]map[string]int
}

// Default returns the embedded questionnaire. It panics if the embedded file is
// invalid, which tests guard against.
func Default() *Questionnaire {
	q, err := Load(defaultYAML)
	if err != nil {
		panic(err)
	}
	return q
}

// LoadFile reads and validates a questionnaire from a YAML file.
func LoadFile(path string) (*Questionnaire, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("questionnaire: read %q: %w", path, err)
	}
	return Load(data)
}

// Load parses and validates a questionnaire document.
func Load(data []byte) (*Questionnaire, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("questionnaire: decode: %w", err)
	}
	if len(f.Questions) == 0 {
		return nil, errors.New("questionnaire: no questions defined")
	}

	q := &Questionnaire{
		questions: make(map[string]domain.Question, len(f.Questions)),
		scoring:   make(map[string]map[string]int, len(f.Scoring)),
	}
	for _, question := range f.Questions {
		question.ID = strings.TrimSpace(question.ID)
		if question.ID == "" {
			return nil, errors.New("questionnaire: question id must not be empty")
		}
		if _, dup := q.questions[question.ID]; dup {
			return nil, fmt.Errorf("questionnaire: duplicate question %q", question.ID)
		}
		if err := validateQuestion(question); err != nil {
			return nil, err
		}
		q.questions[question.ID] = question
	}

	if err := q.link(); err != nil {
		return nil, err
	}
	if err := q.loadScoring(f.Scoring); err != nil {
		return nil, err
	}
	return q, nil
}

func validateQuestion(q domain.Question) error {
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("questionnaire: question %q has no prompt", q.ID)
	}
	var maxOptions, maxTitle int
	switch q.Kind {
	case domain.KindButton:
		maxOptions, maxTitle = maxButtonOptions, maxButtonTitleLength
	case domain.KindList:
		maxOptions, maxTitle = maxListOptions, maxListTitleLength
	default:
		return fmt.Errorf("questionnaire: question %q has unknown kind %q", q.ID, q.Kind)
	}
	if len(q.Options) == 0 || len(q.Options) > maxOptions {
		return fmt.Errorf("questionnaire: question %q must have 1-%d options, has %d", q.ID, maxOptions, len(q.Options))
	}

	seen := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		if o.ID == "" || o.Title == "" || o.Value == "" {
			return fmt.Errorf("questionnaire: question %q has an option without id, title or value", q.ID)
		}
		if seen[o.ID] {
			return fmt.Errorf("questionnaire: question %q has duplicate option %q", q.ID, o.ID)
		}
		seen[o.ID] = true
		if utf8.RuneCountInString(o.Title) > maxTitle {
			return fmt.Errorf("questionnaire: option %q title exceeds %d characters", o.ID, maxTitle)
		}
	}
	return nil
}

// link finds the single entry question and walks the chain, rejecting dangling
// pointers, cycles and unreachable questions.
func (q *Questionnaire) link() error {
	hasPredecessor := make(map[string]bool, len(q.questions))
	for _, question := range q.questions {
		if question.Next == "" {
			continue
		}
		if _, ok := q.questions[question.Next]; !ok {
			return fmt.Errorf("questionnaire: question %q points to unknown question %q", question.ID, question.Next)
		}
		if hasPredecessor[question.Next] {
			return fmt.Errorf("questionnaire: question %q has more than one predecessor", question.Next)
		}
		hasPredecessor[question.Next] = true
	}

	var entries []string
	for id := range q.questions {
		if !hasPredecessor[id] {
			entries = append(entries, id)
		}
	}
	if len(entries) != 1 {
		return fmt.Errorf("questionnaire: expected exactly one entry question, found %d", len(entries))
	}
	q.entry = entries[0]

	visited := make(map[string]bool, len(q.questions))
	for id := q.entry; id != ""; id = q.questions[id].Next {
		if visited[id] {
			return fmt.Errorf("questionnaire: cycle detected at question %q", id)
		}
		visited[id] = true
		q.order = append(q.order, id)
	}
	if len(visited) != len(q.questions) {
		return errors.New("questionnaire: some questions are not reachable from the entry question")
	}
	return nil
}

func (q *Questionnaire) loadScoring(scoring map[string]map[string]int) error {
	for questionID, weights := range scoring {
		question, ok := q.questions[questionID]
		if !ok {
			return fmt.Errorf("questionnaire: scoring references unknown question %q", questionID)
		}
		table := make(map[string]int, len(weights))
		for value, score := range weights {
			if !hasValue(question, value) {
				return fmt.Errorf("questionnaire: scoring for %q references unknown value %q", questionID, value)
			}
			if score < minScore || score > MaxScore {
				return fmt.Errorf("questionnaire: score for %q/%q must be in [%d,%d], got %d", questionID, value, minScore, MaxScore, score)
			}
			table[value] = score
		}
		q.scoring[questionID] = table
	}
	return nil
}

func hasValue(q domain.Question, value string) bool {
	for _, o := range q.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// Entry returns the first question of the flow.
func (q *Questionnaire) Entry() domain.Question {
	return q.questions[q.entry]
}

// Question looks up a question by id.
func (q *Questionnaire) Question(id string) (domain.Question, bool) {
	question, ok := q.questions[id]
	return question, ok
}

// Next returns the successor of the given question, if any.
func (q *Questionnaire) Next(id string) (domain.Question, bool) {
	question, ok := q.questions[id]
	if !ok || question.Next == "" {
		return domain.Question{}, false
	}
	return q.Question(question.Next)
}

// Questions returns the questions in flow order.
func (q *Questionnaire) Questions() []domain.Question {
	out := make([]domain.Question, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.questions[id])
	}
	return out
}

// Len is the number of configured questions.
func (q *Questionnaire) Len() int {
	return len(q.order)
}

// Score returns the configured weight for an answer value.
func (q *Questionnaire) Score(questionID, value string) (int, bool) {
	score, ok := q.scoring[questionID][value]
	return score, ok
}

// MatchOption resolves an inbound reply against the options of a question.
// Interactive replies match on option id only; plain text matches an option
// title or id, ignoring case and surrounding space.
func MatchOption(q domain.Question, replyID, text string) (domain.Option, bool) {
	if replyID != "" {
		return q.Option(replyID)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Option{}, false
	}
	for _, o := range q.Options {
		if strings.EqualFold(o.Title, text) || strings.EqualFold(o.ID, text) {
			return o, true
		}
	}
	return domain.Option{}, false
}
