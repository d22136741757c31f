package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"lead-qualifier/internal/dispatch"
	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/integrations/whatsapp"
	"lead-qualifier/internal/metrics"
	"lead-qualifier/internal/signature"
)

const subscribeMode = "subscribe"

// verifyWebhook answers the provider's subscription handshake.
func (h *Handler) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := firstNonEmpty(q.Get("hub.mode"), q.Get("mode"))
	token := firstNonEmpty(q.Get("hub.verify_token"), q.Get("token"))
	challenge := firstNonEmpty(q.Get("hub.challenge"), q.Get("challenge"))

	if mode != subscribeMode || subtle.ConstantTimeCompare([]byte(token), []byte(h.deps.VerifyToken)) != 1 {
		h.deps.Logger.Warn("webhook verification rejected", zap.String("mode", mode))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	h.deps.Logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// receiveWebhook authenticates a delivery, queues its messages and returns
// without waiting for them to be processed.
func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	log := h.deps.Logger
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.count(metrics.ResultMalformed)
		log.Warn("webhook body unreadable", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	header := r.Header.Get(signature.Header)
	if header == "" {
		h.deps.Metrics.MissingSignature.Inc()
		if h.deps.RequireSignature {
			h.count(metrics.ResultForbidden)
			log.Warn("webhook rejected, signature missing")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		log.Warn("webhook accepted without signature")
	} else if err := signature.Verify(body, header, h.deps.AppSecret); err != nil {
		h.count(metrics.ResultForbidden)
		log.Warn("webhook signature rejected", zap.Error(err))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	payload, err := whatsapp.ParseWebhook(body)
	if err != nil {
		h.count(metrics.ResultMalformed)
		log.Error("webhook payload malformed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	msgs := payload.MessagesFor(h.deps.BusinessAccountID)
	if len(msgs) == 0 {
		h.count(metrics.ResultIgnored)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, msg := range msgs {
		if msg.ID != "" && h.seen.Contains(msg.ID) {
			log.Debug("duplicate message skipped", zap.String("event_id", msg.ID))
			continue
		}
		if err := h.deps.Dispatcher.Submit(r.Context(), h.replyJob(msg)); err != nil {
			h.count(metrics.ResultUnavailable)
			if errors.Is(err, dispatch.ErrQueueFull) || errors.Is(err, dispatch.ErrClosed) {
				log.Warn("webhook deferred, dispatcher saturated", zap.Error(err))
			} else {
				log.Error("webhook dispatch failed", zap.Error(err))
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if msg.ID != "" {
			h.seen.Add(msg.ID, struct{}{})
		}
	}

	h.count(metrics.ResultAccepted)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) replyJob(msg domain.InboundMessage) dispatch.Job {
	return dispatch.Job{
		ID:   msg.ID,
		Key:  msg.From,
		Name: "reply",
		Run:  func(ctx context.Context) error { return h.deps.Replies.HandleReply(ctx, msg) },
	}
}

func (h *Handler) count(result string) {
	h.deps.Metrics.WebhookRequests.WithLabelValues(result).Inc()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
