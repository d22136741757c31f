package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/integrations/whatsapp"
)

type LeadReader interface {
	GetLead(ctx context.Context, leadID string) (domain.Lead, error)
}

// Scheduler runs fn once after delay unless the key is cancelled first.
// Scheduling an existing key replaces the earlier task.
type Scheduler interface {
	Schedule(key string, delay time.Duration, fn func(ctx context.Context))
	Cancel(key string) bool
	Pending(key string) bool
}

type FlowStarter interface {
	Start(ctx context.Context, in StartInput) error
}

type WelcomeConfig struct {
	Template   string
	Language   string
	StartDelay time.Duration
	// DefaultCountryCode is prepended to lead numbers stored in national
	// form. Without it such numbers are rejected.
	DefaultCountryCode string
}

type WelcomeService struct {
	leads     LeadReader
	messenger Messenger
	scheduler Scheduler
	starter   FlowStarter
	activity  ActivityLogger
	cfg       WelcomeConfig
	logger    *zap.Logger
}

type TriggerOutput struct {
	LeadID    string              `json:"leadId"`
	MessageID string              `json:"messageId"`
	Result    whatsapp.SendResult `json:"result"`
}

func NewWelcomeService(
	leads LeadReader,
	messenger Messenger,
	scheduler Scheduler,
	starter FlowStarter,
	activity ActivityLogger,
	cfg WelcomeConfig,
	logger *zap.Logger,
) (*WelcomeService, error) {
	if leads == nil || messenger == nil || scheduler == nil || starter == nil || activity == nil {
		return nil, errors.New("usecase: welcome dependencies must not be nil")
	}
	if strings.TrimSpace(cfg.Template) == "" {
		return nil, errors.New("usecase: welcome template must not be empty")
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WelcomeService{
		leads:     leads,
		messenger: messenger,
		scheduler: scheduler,
		starter:   starter,
		activity:  activity,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Trigger sends the welcome template to a lead and schedules the start of the
// question flow. Send failures are returned to the caller.
func (w *WelcomeService) Trigger(ctx context.Context, leadID string) (TriggerOutput, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return TriggerOutput{}, newError(ErrorInvalidInput, "lead_id_required", nil)
	}

	lead, err := w.leads.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, domain.ErrLeadNotFound) {
			return TriggerOutput{}, newError(ErrorNotFound, "lead_not_found", err)
		}
		return TriggerOutput{}, newError(ErrorInternal, "lead_lookup_error", err)
	}
	if domain.NormalizePhone(lead.Phone) == "" {
		return TriggerOutput{}, newError(ErrorNoAssignment, "lead_phone_missing", nil)
	}
	phone, err := domain.InternationalPhone(lead.Phone, w.cfg.DefaultCountryCode)
	if err != nil {
		return TriggerOutput{}, newError(ErrorInvalidInput, "lead_phone_invalid", err)
	}
	if !lead.HasAssignment() {
		return TriggerOutput{}, newError(ErrorNoAssignment, "lead_not_assigned", nil)
	}

	env := whatsapp.TemplateMessage(phone, w.cfg.Template, w.cfg.Language, lead.Name, lead.AssignedToName)
	res, err := w.messenger.Send(ctx, env)
	if err != nil {
		w.logger.Error("welcome send failed", zap.String("lead_id", leadID), zap.Error(err))
		return TriggerOutput{}, newError(ErrorUpstream, "welcome_send_error", err)
	}

	in := StartInput{Phone: phone, LeadID: leadID}
	w.scheduler.Schedule(phone, w.cfg.StartDelay, func(ctx context.Context) {
		if err := w.starter.Start(ctx, in); err != nil {
			w.logger.Error("scheduled flow start failed", zap.String("lead_id", leadID), zap.Error(err))
		}
	})

	if err := w.activity.LogActivity(ctx, domain.Activity{
		Type:   domain.ActivityWelcomeSent,
		LeadID: leadID,
		Phone:  phone,
		Details: map[string]any{
			"template":       w.cfg.Template,
			"assignedToName": lead.AssignedToName,
			"messageId":      res.MessageID(),
		},
		At: time.Now().UTC(),
	}); err != nil {
		w.logger.Warn("failed to log welcome activity", zap.String("lead_id", leadID), zap.Error(err))
	}

	w.logger.Info("welcome sent",
		zap.String("lead_id", leadID),
		zap.String("phone", domain.MaskPhone(phone)),
		zap.Duration("start_delay", w.cfg.StartDelay),
	)
	return TriggerOutput{
		LeadID:    leadID,
		MessageID: res.MessageID(),
		Result:    res,
	}, nil
}

// CancelPending drops a scheduled flow start for the lead. It reports whether
// a start was pending.
func (w *WelcomeService) CancelPending(ctx context.Context, leadID string) (bool, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return false, newError(ErrorInvalidInput, "lead_id_required", nil)
	}
	lead, err := w.leads.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, domain.ErrLeadNotFound) {
			return false, newError(ErrorNotFound, "lead_not_found", err)
		}
		return false, newError(ErrorInternal, "lead_lookup_error", err)
	}
	phone, err := domain.InternationalPhone(lead.Phone, w.cfg.DefaultCountryCode)
	if err != nil {
		return false, nil
	}
	cancelled := w.scheduler.Cancel(phone)
	if cancelled {
		w.logger.Info("pending flow start cancelled", zap.String("lead_id", leadID))
	}
	return cancelled, nil
}
