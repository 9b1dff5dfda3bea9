// Package webhook decides how to answer signed webhook deliveries.
//
// Two request shapes are recognised: the URL verification handshake, which
// must echo its challenge token, and every other event, which is
// acknowledged with "OK" and handed to a Dispatcher. Both require the
// timestamp and signature headers to verify against the raw body.
//
// Responses carry only two failure categories, missing input and invalid
// signature. Why a signature was rejected is logged, never returned.
package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kehao95/hook-pulse/internal/config"
	"github.com/kehao95/hook-pulse/internal/metrics"
	"github.com/kehao95/hook-pulse/internal/signature"
)

const (
	MsgMissingParameters = "Bad Request: Missing required parameters"
	MsgMissingHeaders    = "Bad Request: Missing signature headers"
	MsgInvalidSignature  = "Bad Request: Invalid signature"
	MsgInvalidJSON       = "Bad Request: Invalid JSON body"
	MsgTooLarge          = "Payload Too Large"
	MsgOK                = "OK"
)

// Dispatcher receives verified generic events. Dispatch must not block on
// downstream work.
type Dispatcher interface {
	Dispatch(ev Event)
}

// Response is what the HTTP layer writes back as text/plain.
type Response struct {
	Status int
	Body   string
}

type Config struct {
	TimestampHeader string
	SignatureHeader string
	MaxBodySize     int64
}

// ConfigFrom copies the webhook section of the process configuration.
func ConfigFrom(wc config.WebhookConfig) Config {
	return Config{
		TimestampHeader: wc.TimestampHeader,
		SignatureHeader: wc.SignatureHeader,
		MaxBodySize:     int64(wc.MaxBodySize),
	}
}

type Handler struct {
	config     Config
	verifier   *signature.Verifier
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New builds a Handler. dispatcher and m may be nil.
func New(cfg Config, verifier *signature.Verifier, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if cfg.TimestampHeader == "" {
		cfg.TimestampHeader = config.DefaultTimestampHeader
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = config.DefaultSignatureHeader
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = config.DefaultMaxBodySize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		config:     cfg,
		verifier:   verifier,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
	}
}

// Handle answers one delivery. rawBody must be the bytes exactly as received.
func (h *Handler) Handle(headers http.Header, rawBody []byte, body Body) Response {
	timestamp := headers.Get(h.config.TimestampHeader)
	sig := headers.Get(h.config.SignatureHeader)
	ev := Classify(body, rawBody)

	resp := h.handle(ev, timestamp, sig, rawBody)
	if h.metrics != nil {
		h.metrics.WebhookRequestsTotal.WithLabelValues(ev.Kind.String(), strconv.Itoa(resp.Status)).Inc()
	}
	return resp
}

func (h *Handler) handle(ev Event, timestamp, sig string, rawBody []byte) Response {
	if ev.Kind == KindURLVerification {
		if ev.Challenge == "" || timestamp == "" || sig == "" {
			h.logger.Warn("url verification missing parameters",
				"has_challenge", ev.Challenge != "",
				"has_timestamp", timestamp != "",
				"has_signature", sig != "",
			)
			return Response{Status: http.StatusBadRequest, Body: MsgMissingParameters}
		}
		if !h.verify(ev, rawBody, timestamp, sig) {
			return Response{Status: http.StatusBadRequest, Body: MsgInvalidSignature}
		}
		h.logger.Info("url verification successful")
		return Response{Status: http.StatusOK, Body: ev.Challenge}
	}

	if timestamp == "" || sig == "" {
		h.logger.Warn("missing signature headers", "event", ev.Type)
		return Response{Status: http.StatusBadRequest, Body: MsgMissingHeaders}
	}
	if !h.verify(ev, rawBody, timestamp, sig) {
		return Response{Status: http.StatusBadRequest, Body: MsgInvalidSignature}
	}

	h.logger.Info("event received", "event", ev.Type, "bytes", len(rawBody))
	if h.dispatcher != nil {
		h.dispatcher.Dispatch(ev)
	}
	return Response{Status: http.StatusOK, Body: MsgOK}
}

func (h *Handler) verify(ev Event, rawBody []byte, timestamp, sig string) bool {
	reason := h.verifier.Check(rawBody, timestamp, sig)
	if reason == signature.ReasonOK {
		return true
	}
	h.logger.Warn("signature verification failed",
		"kind", ev.Kind.String(),
		"event", ev.Type,
		"reason", reason.String(),
	)
	if h.metrics != nil {
		h.metrics.VerificationFailuresTotal.WithLabelValues(reason.String()).Inc()
	}
	return false
}

// ServeHTTP reads the raw body once, parses it for routing, and writes the
// result of Handle.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, Response{Status: http.StatusRequestEntityTooLarge, Body: MsgTooLarge})
			return
		}
		h.logger.Warn("failed to read body", "error", err)
		writeText(w, Response{Status: http.StatusBadRequest, Body: "Bad Request"})
		return
	}

	body, err := ParseBody(rawBody)
	if err != nil {
		h.logger.Warn("rejecting body", "error", err, "bytes", len(rawBody))
		writeText(w, Response{Status: http.StatusBadRequest, Body: MsgInvalidJSON})
		return
	}

	writeText(w, h.Handle(r.Header, rawBody, body))
}

func writeText(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}
