package topic

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogPublisher writes published payloads to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *logrus.Logger

	mu        sync.Mutex
	published []Published
}

// Published is a payload recorded by LogPublisher.
type Published struct {
	Topic   string
	Payload []byte
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	p.published = append(p.published, Published{Topic: topic, Payload: append([]byte(nil), payload...)})
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"payload": string(payload),
	}).Warn("Notification published")
	return nil
}

// Messages returns everything published so far.
func (p *LogPublisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.published))
	copy(out, p.published)
	return out
}
