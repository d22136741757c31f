package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/integrations/whatsapp"
	"lead-qualifier/internal/metrics"
	"lead-qualifier/internal/questionnaire"
)

const (
	RepromptText = "Please choose one of the options above."
	ClosingText  = "Thank you! Your answers have been recorded. Your representative will be in touch shortly."

	listButtonLabel  = "Choose an option"
	listSectionTitle = "Options"

	defaultForwardTimeout = 10 * time.Second
)

var optOutWords = map[string]bool{"STOP": true, "UNSUBSCRIBE": true}

// SessionStore holds in-flight conversations keyed by phone number. Close
// releases the backing store and is called once at shutdown.
type SessionStore interface {
	Get(ctx context.Context, phone string) (domain.Session, bool, error)
	Put(ctx context.Context, s domain.Session) error
	Delete(ctx context.Context, phone string) error
	Close() error
}

type Messenger interface {
	Send(ctx context.Context, env whatsapp.Envelope) (whatsapp.SendResult, error)
}

// LeadUpdater receives answers and the final result for a lead record.
type LeadUpdater interface {
	RecordResponse(ctx context.Context, leadID, questionID string, r domain.Response) error
	SaveQualification(ctx context.Context, leadID string, res domain.QualificationResult) error
}

type ActivityLogger interface {
	LogActivity(ctx context.Context, a domain.Activity) error
}

// PendingCanceler cancels a scheduled flow start for a phone number.
type PendingCanceler interface {
	Cancel(key string) bool
}

type QualificationDeps struct {
	Questions *questionnaire.Questionnaire
	Scorer    Scorer
	Sessions  SessionStore
	Messenger Messenger
	Leads     LeadUpdater
	Activity  ActivityLogger
	// Pending is optional; without it opt-outs only clear the session.
	Pending PendingCanceler
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// ForwardTimeout bounds each detached lead-store and activity call.
	ForwardTimeout time.Duration
}

// QualificationService drives a phone number through the question chain.
// Calls for the same phone must not run concurrently; the dispatcher
// guarantees a single writer per phone.
type QualificationService struct {
	questions      *questionnaire.Questionnaire
	scorer         Scorer
	sessions       SessionStore
	messenger      Messenger
	leads          LeadUpdater
	activity       ActivityLogger
	pending        PendingCanceler
	metrics        *metrics.Metrics
	logger         *zap.Logger
	tracer         trace.Tracer
	forwardTimeout time.Duration
	now            func() time.Time

	detached sync.WaitGroup
}

type StartInput struct {
	Phone  string
	LeadID string
}

func NewQualificationService(d QualificationDeps) (*QualificationService, error) {
	if d.Questions == nil {
		return nil, errors.New("usecase: questionnaire must not be nil")
	}
	if d.Scorer.questions == nil {
		return nil, errors.New("usecase: scorer must be initialized")
	}
	if d.Sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if d.Messenger == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	if d.Leads == nil {
		return nil, errors.New("usecase: lead updater must not be nil")
	}
	if d.Activity == nil {
		return nil, errors.New("usecase: activity logger must not be nil")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.ForwardTimeout <= 0 {
		d.ForwardTimeout = defaultForwardTimeout
	}
	return &QualificationService{
		questions:      d.Questions,
		scorer:         d.Scorer,
		sessions:       d.Sessions,
		messenger:      d.Messenger,
		leads:          d.Leads,
		activity:       d.Activity,
		pending:        d.Pending,
		metrics:        d.Metrics,
		logger:         d.Logger,
		tracer:         otel.Tracer("lead-qualifier/usecase"),
		forwardTimeout: d.ForwardTimeout,
		now:            time.Now,
	}, nil
}

// Start opens a session at the entry question and sends it. A phone that
// already has a session is left alone.
func (s *QualificationService) Start(ctx context.Context, in StartInput) (err error) {
	phone := domain.NormalizePhone(in.Phone)
	ctx, span := s.tracer.Start(ctx, "qualification.start", trace.WithAttributes(attribute.String("lead_id", in.LeadID)))
	defer func() { endSpan(span, err) }()

	if phone == "" || strings.TrimSpace(in.LeadID) == "" {
		return newError(ErrorInvalidInput, "phone_and_lead_required", nil)
	}
	log := s.logger.With(zap.String("phone", domain.MaskPhone(phone)), zap.String("lead_id", in.LeadID))

	_, exists, err := s.sessions.Get(ctx, phone)
	if err != nil {
		return newError(ErrorInternal, "session_get_error", err)
	}
	if exists {
		log.Info("qualification already in progress, start skipped")
		return nil
	}

	entry := s.questions.Entry()
	session := domain.NewSession(phone, in.LeadID, entry.ID, s.now().UTC())
	if err := s.sessions.Put(ctx, session); err != nil {
		return newError(ErrorInternal, "session_put_error", err)
	}
	log.Info("qualification started", zap.String("question_id", entry.ID))

	s.sendQuestion(ctx, session, entry)
	s.logActivity(ctx, domain.Activity{
		Type:   domain.ActivityQualificationStarted,
		LeadID: in.LeadID,
		Phone:  phone,
		At:     session.StartedAt,
	})
	return nil
}

// HandleReply applies one inbound message to the sender's session. Only
// session store failures are returned; send and lead-store failures are
// logged.
func (s *QualificationService) HandleReply(ctx context.Context, msg domain.InboundMessage) (err error) {
	phone := domain.NormalizePhone(msg.From)
	ctx, span := s.tracer.Start(ctx, "qualification.reply", trace.WithAttributes(attribute.String("event_id", msg.ID)))
	defer func() { endSpan(span, err) }()

	if phone == "" {
		return nil
	}
	log := s.logger.With(zap.String("phone", domain.MaskPhone(phone)), zap.String("event_id", msg.ID))

	if isOptOut(msg) {
		return s.optOut(ctx, phone, log)
	}

	session, ok, err := s.sessions.Get(ctx, phone)
	if err != nil {
		return newError(ErrorInternal, "session_get_error", err)
	}
	if !ok {
		s.metrics.UnknownSessionReplies.Inc()
		log.Debug("reply without active session dropped")
		return nil
	}
	log = log.With(zap.String("lead_id", session.LeadID))

	current, ok := s.questions.Question(session.CurrentQuestionID)
	if !ok {
		log.Error("session points to unknown question, discarding", zap.String("question_id", session.CurrentQuestionID))
		if err := s.sessions.Delete(ctx, phone); err != nil {
			return newError(ErrorInternal, "session_delete_error", err)
		}
		return nil
	}

	option, ok := questionnaire.MatchOption(current, msg.ReplyID, msg.Text)
	if !ok {
		log.Debug("unrecognized reply, re-prompting",
			zap.String("question_id", current.ID),
			zap.String("reply_id", msg.ReplyID),
			zap.String("reply_title", msg.ReplyTitle),
		)
		s.send(ctx, session.LeadID, whatsapp.TextMessage(phone, RepromptText))
		s.sendQuestion(ctx, session, current)
		return nil
	}

	response := domain.Response{
		Question:  current.Prompt,
		Answer:    option.Title,
		Value:     option.Value,
		Timestamp: s.now().UTC(),
	}
	session.Record(current.ID, response)

	next, hasNext := s.questions.Next(current.ID)
	if !hasNext {
		return s.complete(ctx, session, current.ID, log)
	}

	// Session state is committed before any side effect.
	session.CurrentQuestionID = next.ID
	if err := s.sessions.Put(ctx, session); err != nil {
		return newError(ErrorInternal, "session_put_error", err)
	}
	s.forwardResponse(ctx, session.LeadID, current.ID, response)
	log.Debug("question answered", zap.String("question_id", current.ID), zap.String("next", next.ID))
	s.sendQuestion(ctx, session, next)
	return nil
}

// complete deletes the session first; once it is gone a redelivered or
// retried final reply finds no session and is dropped.
func (s *QualificationService) complete(ctx context.Context, session domain.Session, lastQuestionID string, log *zap.Logger) error {
	if err := s.sessions.Delete(ctx, session.Phone); err != nil {
		return newError(ErrorInternal, "session_delete_error", err)
	}
	s.forwardResponse(ctx, session.LeadID, lastQuestionID, session.Responses[lastQuestionID])

	completedAt := s.now().UTC()
	result := domain.QualificationResult{
		LeadID:      session.LeadID,
		Phone:       session.Phone,
		Responses:   session.Responses,
		Score:       s.scorer.Score(session.Responses),
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(session.StartedAt),
	}

	if err := s.leads.SaveQualification(ctx, session.LeadID, result); err != nil {
		log.Error("failed to save qualification result", zap.Int("score", result.Score), zap.Error(err))
	}
	s.send(ctx, session.LeadID, whatsapp.TextMessage(session.Phone, ClosingText))

	s.metrics.QualificationsDone.Inc()
	log.Info("qualification completed", zap.Int("score", result.Score), zap.Duration("duration", result.Duration))
	s.logActivity(ctx, domain.Activity{
		Type:   domain.ActivityQualificationCompleted,
		LeadID: session.LeadID,
		Phone:  session.Phone,
		Details: map[string]any{
			"score":           result.Score,
			"durationSeconds": int64(result.Duration.Seconds()),
		},
		At: completedAt,
	})
	return nil
}

func (s *QualificationService) optOut(ctx context.Context, phone string, log *zap.Logger) error {
	cancelled := false
	if s.pending != nil {
		cancelled = s.pending.Cancel(phone)
	}
	session, ok, err := s.sessions.Get(ctx, phone)
	if err != nil {
		return newError(ErrorInternal, "session_get_error", err)
	}
	if ok {
		if err := s.sessions.Delete(ctx, phone); err != nil {
			return newError(ErrorInternal, "session_delete_error", err)
		}
		s.logActivity(ctx, domain.Activity{
			Type:    domain.ActivityQualificationOptOut,
			LeadID:  session.LeadID,
			Phone:   phone,
			Details: map[string]any{"questionId": session.CurrentQuestionID},
			At:      s.now().UTC(),
		})
	}
	log.Info("lead opted out", zap.Bool("had_session", ok), zap.Bool("cancelled_pending", cancelled))
	return nil
}

func isOptOut(msg domain.InboundMessage) bool {
	if msg.ReplyID != "" {
		return false
	}
	return optOutWords[strings.ToUpper(strings.TrimSpace(msg.Text))]
}

func (s *QualificationService) sendQuestion(ctx context.Context, session domain.Session, q domain.Question) {
	s.send(ctx, session.LeadID, QuestionEnvelope(session.Phone, q))
}

// QuestionEnvelope renders a question as reply buttons or a list.
func QuestionEnvelope(to string, q domain.Question) whatsapp.Envelope {
	if q.Kind == domain.KindButton {
		buttons := make([]whatsapp.ButtonReply, 0, len(q.Options))
		for _, o := range q.Options {
			buttons = append(buttons, whatsapp.ButtonReply{ID: o.ID, Title: o.Title})
		}
		return whatsapp.ButtonMessage(to, q.Prompt, buttons)
	}
	rows := make([]whatsapp.Row, 0, len(q.Options))
	for _, o := range q.Options {
		rows = append(rows, whatsapp.Row{ID: o.ID, Title: o.Title, Description: o.Description})
	}
	return whatsapp.ListMessage(to, q.Prompt, listButtonLabel, listSectionTitle, rows)
}

// send delivers env and records the outcome. Failures are logged only.
func (s *QualificationService) send(ctx context.Context, leadID string, env whatsapp.Envelope) {
	if _, err := s.messenger.Send(ctx, env); err != nil {
		s.metrics.MessagesSent.WithLabelValues(env.Kind(), "error").Inc()
		s.logger.Error("failed to send message",
			zap.String("lead_id", leadID),
			zap.String("kind", env.Kind()),
			zap.Error(err),
		)
		return
	}
	s.metrics.MessagesSent.WithLabelValues(env.Kind(), "ok").Inc()
}

func (s *QualificationService) forwardResponse(ctx context.Context, leadID, questionID string, r domain.Response) {
	s.detach(ctx, func(ctx context.Context) {
		if err := s.leads.RecordResponse(ctx, leadID, questionID, r); err != nil {
			s.logger.Error("failed to record response",
				zap.String("lead_id", leadID),
				zap.String("question_id", questionID),
				zap.Error(err),
			)
		}
	})
}

func (s *QualificationService) logActivity(ctx context.Context, a domain.Activity) {
	s.detach(ctx, func(ctx context.Context) {
		if err := s.activity.LogActivity(ctx, a); err != nil {
			s.logger.Warn("failed to log activity",
				zap.String("lead_id", a.LeadID),
				zap.String("kind", string(a.Type)),
				zap.Error(err),
			)
		}
	})
}

// detach runs fn on its own goroutine with a context that survives the
// caller but is bounded by the forward timeout.
func (s *QualificationService) detach(ctx context.Context, fn func(ctx context.Context)) {
	s.detached.Add(1)
	go func() {
		defer s.detached.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.forwardTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every detached call has finished.
func (s *QualificationService) Wait() {
	s.detached.Wait()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
