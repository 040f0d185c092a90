// File: internal/processor/subscriber.go
package processor

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// HeaderAction carries the broadcast action on NATS messages
const HeaderAction = "Action"

type natsSubscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Subscriber feeds broadcasts published on a NATS subject into the
// processor. Messages without an Action header are taken as carrying the
// accepted action since the subject is dedicated to them.
type Subscriber struct {
	conn      natsSubscriber
	subject   string
	processor Processor
	action    string
	logger    *logrus.Entry

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewSubscriber creates a subscriber for subject
func NewSubscriber(conn natsSubscriber, subject string, p *BroadcastProcessor) *Subscriber {
	return &Subscriber{
		conn:      conn,
		subject:   subject,
		processor: p,
		action:    p.Action(),
		logger:    utils.GetLogger().WithField("component", "broadcast_subscriber"),
	}
}

// Start subscribes to the broadcast subject
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return utils.WrapError(utils.ErrCodeConnection, "Failed to subscribe to broadcasts", err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.logger.WithField("subject", s.subject).Info("Listening for broadcasts")
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg *nats.Msg) {
	action := s.action
	if msg.Header != nil {
		if a := msg.Header.Get(HeaderAction); a != "" {
			action = a
		}
	}

	if _, err := s.processor.HandleBroadcast(ctx, action, msg.Data); err != nil {
		s.logger.WithError(err).WithField("subject", msg.Subject).Debug("Broadcast rejected")
	}
}

// Stop unsubscribes
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}
