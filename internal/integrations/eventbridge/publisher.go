// Package eventbridge publishes lead activity events to an AWS EventBridge bus.
package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"lead-qualifier/internal/domain"
)

// Source is the event source attached to every entry.
const Source = "lead-qualifier"

// eventbridgeAPI is the minimal EventBridge interface required by Publisher.
type eventbridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher sends one event per activity.
type Publisher struct {
	api     eventbridgeAPI
	busName string
	logger  *zap.Logger
}

// New creates a Publisher for the named bus.
func New(api eventbridgeAPI, busName string, logger *zap.Logger) (*Publisher, error) {
	if api == nil {
		return nil, errors.New("eventbridge: api must not be nil")
	}
	busName = strings.TrimSpace(busName)
	if busName == "" {
		return nil, errors.New("eventbridge: bus name must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{api: api, busName: busName, logger: logger}, nil
}

// LogActivity publishes a single activity. A rejected entry is an error.
func (p *Publisher) LogActivity(ctx context.Context, a domain.Activity) error {
	detail, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("eventbridge: marshal activity: %w", err)
	}

	entry := types.PutEventsRequestEntry{
		EventBusName: aws.String(p.busName),
		Source:       aws.String(Source),
		DetailType:   aws.String(string(a.Type)),
		Detail:       aws.String(string(detail)),
	}
	if !a.At.IsZero() {
		entry.Time = aws.Time(a.At)
	}
	if a.LeadID != "" {
		entry.Resources = []string{"lead/" + a.LeadID}
	}

	out, err := p.api.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: []types.PutEventsRequestEntry{entry}})
	if err != nil {
		return fmt.Errorf("eventbridge: put events: %w", err)
	}
	if out != nil && out.FailedEntryCount > 0 {
		code, msg := "", ""
		if len(out.Entries) > 0 {
			code = aws.ToString(out.Entries[0].ErrorCode)
			msg = aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("eventbridge: entry rejected: %s %s", code, msg)
	}

	p.logger.Debug("activity published",
		zap.String("kind", string(a.Type)),
		zap.String("lead_id", a.LeadID),
	)
	return nil
}

// LogOnly records activities in the service log when no bus is configured.
type LogOnly struct {
	logger *zap.Logger
}

func NewLogOnly(logger *zap.Logger) *LogOnly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOnly{logger: logger}
}

func (l *LogOnly) LogActivity(_ context.Context, a domain.Activity) error {
	l.logger.Info("activity",
		zap.String("kind", string(a.Type)),
		zap.String("lead_id", a.LeadID),
		zap.String("phone", domain.MaskPhone(a.Phone)),
		zap.Any("details", a.Details),
	)
	return nil
}
