package domain

import (
	"errors"
	"time"
)

// ErrLeadNotFound is returned by lead readers when no record exists.
var ErrLeadNotFound = errors.New("lead not found")

// Lead is the subset of the external lead record the qualifier reads.
type Lead struct {
	ID                  string
	Name                string
	Phone               string
	AssignedToID        string
	AssignedToName      string
	QualificationStatus string
}

// HasAssignment reports whether a representative owns the lead.
func (l Lead) HasAssignment() bool {
	return l.AssignedToID != "" && l.AssignedToName != ""
}

// QualificationResult is the aggregate pushed to the lead record on completion.
type QualificationResult struct {
	LeadID      string
	Phone       string
	Responses   map[string]Response
	Score       int
	CompletedAt time.Time
	Duration    time.Duration
}

// ActivityType names an audit event emitted for a lead.
type ActivityType string

const (
	ActivityWelcomeSent            ActivityType = "welcome.sent"
	ActivityQualificationStarted   ActivityType = "qualification.started"
	ActivityQualificationResponse  ActivityType = "qualification.response"
	ActivityQualificationCompleted ActivityType = "qualification.completed"
	ActivityQualificationOptOut    ActivityType = "qualification.opt_out"
)

// Activity is an audit event for the lead timeline.
type Activity struct {
	Type    ActivityType   `json:"type"`
	LeadID  string         `json:"leadId"`
	Phone   string         `json:"phone,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}
