package service

import (
	"context"
	"encoding/json"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/metrics"
	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/queue"
)

// DefaultTopic is the event bus topic every hub subscribes to
const DefaultTopic = "queueboard:events"

// Publisher puts typed events on the event bus.
// Publishing happens after the write committed, so a failure is logged
// and left for the next snapshot to repair rather than returned.
type Publisher struct {
	q       queue.Queue
	topic   string
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewPublisher creates a publisher for topic. m may be nil.
func NewPublisher(q queue.Queue, topic string, m *metrics.Metrics, log *logger.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{q: q, topic: topic, metrics: m, log: log}
}

// Topic returns the bus topic
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish encodes data into an event envelope and publishes it
func (p *Publisher) Publish(ctx context.Context, t models.EventType, date string, data any) {
	ev, err := models.NewEvent(t, date, data)
	if err != nil {
		p.log.Error("failed to build event", "type", t, "error", err)
		return
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("failed to encode event", "type", t, "error", err)
		return
	}

	if err := p.q.Publish(ctx, p.topic, string(t), raw); err != nil {
		p.log.Warn("failed to publish event", "type", t, "queue_date", date, "error", err)
		return
	}

	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(string(t)).Inc()
	}
	p.log.Debug("published event", "type", t, "queue_date", date)
}
