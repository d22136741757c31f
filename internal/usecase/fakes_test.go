package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/integrations/whatsapp"
)

type mockMessenger struct {
	mu   sync.Mutex
	sent []whatsapp.Envelope
	err  error
	id   string
}

func (m *mockMessenger) Send(_ context.Context, env whatsapp.Envelope) (whatsapp.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, env)
	if m.err != nil {
		return whatsapp.SendResult{}, m.err
	}
	var res whatsapp.SendResult
	if m.id != "" {
		_ = json.Unmarshal([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"`+m.id+`"}]}`), &res)
	}
	return res, nil
}

func (m *mockMessenger) envelopes() []whatsapp.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]whatsapp.Envelope(nil), m.sent...)
}

type recordedResponse struct {
	leadID     string
	questionID string
	response   domain.Response
}

type mockLeads struct {
	mu        sync.Mutex
	lead      domain.Lead
	getErr    error
	recorded  []recordedResponse
	results   []domain.QualificationResult
	recordErr error
	saveErr   error
}

func (m *mockLeads) GetLead(_ context.Context, leadID string) (domain.Lead, error) {
	if m.getErr != nil {
		return domain.Lead{}, m.getErr
	}
	return m.lead, nil
}

func (m *mockLeads) RecordResponse(_ context.Context, leadID, questionID string, r domain.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, recordedResponse{leadID: leadID, questionID: questionID, response: r})
	return m.recordErr
}

func (m *mockLeads) SaveQualification(_ context.Context, _ string, res domain.QualificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return m.saveErr
}

func (m *mockLeads) calls() ([]recordedResponse, []domain.QualificationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedResponse(nil), m.recorded...), append([]domain.QualificationResult(nil), m.results...)
}

type mockActivity struct {
	mu     sync.Mutex
	events []domain.Activity
	err    error
}

func (m *mockActivity) LogActivity(_ context.Context, a domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, a)
	return m.err
}

func (m *mockActivity) types() []domain.ActivityType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ActivityType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// mapStore is a plain map SessionStore; errors can be injected per call.
type mapStore struct {
	mu          sync.Mutex
	sessions    map[string]domain.Session
	getErr      error
	putErr      error
	delErr      error
	delFailures int // Delete calls to fail before succeeding
	closed      bool
}

func newMapStore() *mapStore {
	return &mapStore{sessions: map[string]domain.Session{}}
}

func (m *mapStore) Get(_ context.Context, phone string) (domain.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Session{}, false, m.getErr
	}
	s, ok := m.sessions[domain.NormalizePhone(phone)]
	if !ok {
		return domain.Session{}, false, nil
	}
	return s.Clone(), true, nil
}

func (m *mapStore) Put(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.sessions[s.Phone] = s.Clone()
	return nil
}

func (m *mapStore) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delErr != nil {
		return m.delErr
	}
	if m.delFailures > 0 {
		m.delFailures--
		return errors.New("delete failed")
	}
	delete(m.sessions, domain.NormalizePhone(phone))
	return nil
}

func (m *mapStore) Close() error {
	m.closed = true
	return nil
}

type scheduled struct {
	delay time.Duration
	fn    func(ctx context.Context)
}

type mockScheduler struct {
	mu    sync.Mutex
	tasks map[string]scheduled
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{tasks: map[string]scheduled{}}
}

func (m *mockScheduler) Schedule(key string, delay time.Duration, fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[key] = scheduled{delay: delay, fn: fn}
}

func (m *mockScheduler) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	delete(m.tasks, key)
	return ok
}

func (m *mockScheduler) Pending(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	return ok
}

// fire runs the task for key as if its delay had elapsed.
func (m *mockScheduler) fire(t *testing.T, key string) {
	t.Helper()
	m.mu.Lock()
	task, ok := m.tasks[key]
	delete(m.tasks, key)
	m.mu.Unlock()
	require.True(t, ok, "no task scheduled for %s", key)
	task.fn(context.Background())
}
