// Package ingest validates client log submissions and hands them to the
// transport without waiting for the broker.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"bruteguard/internal/logging"
	"bruteguard/internal/metrics"
	"bruteguard/internal/model"
	"bruteguard/internal/normalize"
	"bruteguard/internal/transport"
	"bruteguard/internal/validate"
)

const (
	StatusQueued      = "queued"
	StatusInvalid     = "invalid_payload"
	StatusUnavailable = "unavailable"
	StatusRateLimited = "rate_limited"
)

// RequestContext carries transport-level facts the client cannot set.
type RequestContext struct {
	UserAgent string
	RequestIP string
}

type AcceptResult struct {
	Status  string                `json:"status"`
	Details []validate.FieldError `json:"details,omitempty"`
	EventID string                `json:"eventId,omitempty"`
}

type Gateway struct {
	validator *validate.Validator
	publisher transport.Publisher
	topic     string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	outcomes chan model.PublishOutcome
	drained  chan struct{}
}

type GatewayConfig struct {
	Topic          string
	PublishTimeout time.Duration
	OutcomeBuffer  int
}

func NewGateway(v *validate.Validator, pub transport.Publisher, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.OutcomeBuffer <= 0 {
		cfg.OutcomeBuffer = 1024
	}
	return &Gateway{
		validator: v,
		publisher: pub,
		topic:     cfg.Topic,
		timeout:   cfg.PublishTimeout,
		logger:    logging.OrDiscard(logger),
		now:       func() time.Time { return time.Now().UTC() },
		outcomes:  make(chan model.PublishOutcome, cfg.OutcomeBuffer),
		drained:   make(chan struct{}),
	}
}

// Outcomes reports every background publish. It is closed by Close.
func (g *Gateway) Outcomes() <-chan model.PublishOutcome {
	return g.outcomes
}

// Accept validates raw and schedules its publish. A queued result means the
// event was handed off, not that the broker has it.
func (g *Gateway) Accept(ctx context.Context, raw []byte, rc RequestContext) AcceptResult {
	ev, err := g.validator.DecodeAndValidate(raw)
	if err != nil {
		metrics.IngestRequestsTotal.WithLabelValues(StatusInvalid).Inc()
		res := AcceptResult{Status: StatusInvalid}
		var verr *validate.ValidationError
		if errors.As(err, &verr) {
			res.Details = verr.Fields
		} else {
			res.Details = []validate.FieldError{{Keyword: "schema", Message: err.Error()}}
		}
		g.logger.Info("rejected payload", "errors", len(res.Details))
		return res
	}

	ev.EventID = uuid.NewString()
	ev.UserAgent = rc.UserAgent
	ev.RequestIP = rc.RequestIP
	ev.ReceivedAt = g.now()
	normalize.ApplyDefaults(&ev, ev.ReceivedAt)

	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.IngestRequestsTotal.WithLabelValues(StatusInvalid).Inc()
		return AcceptResult{Status: StatusInvalid, Details: []validate.FieldError{{Keyword: "encode", Message: err.Error()}}}
	}

	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		metrics.IngestRequestsTotal.WithLabelValues(StatusUnavailable).Inc()
		return AcceptResult{Status: StatusUnavailable}
	}
	g.inflight.Add(1)
	g.mu.RUnlock()

	// The publish outlives the request; only its values are kept.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	go func() {
		defer g.inflight.Done()
		defer cancel()
		g.publish(pubCtx, ev, payload)
	}()

	metrics.IngestRequestsTotal.WithLabelValues(StatusQueued).Inc()
	return AcceptResult{Status: StatusQueued, EventID: ev.EventID}
}

func (g *Gateway) publish(ctx context.Context, ev model.LogEvent, payload []byte) {
	msgID, err := g.publisher.Publish(ctx, g.topic, payload)
	o := model.PublishOutcome{EventID: ev.EventID, MessageID: msgID, Topic: g.topic, At: g.now()}
	if err != nil {
		o.Error = err.Error()
		metrics.PublishTotal.WithLabelValues("failed").Inc()
		g.logger.Error("publish failed",
			"event_id", ev.EventID,
			"customer_id", ev.CustomerID,
			"topic", g.topic,
			"err", err,
		)
	} else {
		metrics.PublishTotal.WithLabelValues("ok").Inc()
		g.logger.Debug("published", "event_id", ev.EventID, "message_id", msgID, "topic", g.topic)
	}
	SendNonBlocking(context.Background(), g.outcomes, o, g.logger)
}

// Close stops accepting events and waits for in-flight publishes, bounded by
// ctx. Outcomes is closed once the last publish finishes, even if ctx ends
// first. Repeated calls wait for the same drain.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		go func() {
			g.inflight.Wait()
			close(g.outcomes)
			close(g.drained)
		}()
	}
	g.mu.Unlock()

	select {
	case <-g.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
