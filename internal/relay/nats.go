package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// natsConn is the subset of *nats.Conn the transport needs
type natsConn interface {
	PublishMsg(m *nats.Msg) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
}

// Announcement is published by a wearable on <prefix>.capability.<name> to
// say it is reachable and accepts messages for that capability.
type Announcement struct {
	Node        string    `json:"node"`
	Name        string    `json:"name,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Validate checks the announcement can be used as a send target
func (a Announcement) Validate() error {
	if a.Node == "" {
		return errors.New("node is required")
	}
	if strings.ContainsAny(a.Node, ".*> \t") {
		return fmt.Errorf("node %q is not a valid subject token", a.Node)
	}
	return nil
}

type presence struct {
	node       string
	name       string
	capability string
	lastSeen   time.Time
}

// NATSTransport discovers wearables from presence announcements and
// delivers payloads by publishing to a per-node subject.
type NATSTransport struct {
	conn   natsConn
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Entry

	mu    sync.RWMutex
	nodes map[string]*presence // keyed by capability + "/" + node
	sub   *nats.Subscription
}

// NewNATSTransport creates a transport on an established connection
func NewNATSTransport(conn natsConn, cfg config.NATSConfig) *NATSTransport {
	ttl := cfg.PresenceTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &NATSTransport{
		conn:   conn,
		prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."),
		ttl:    ttl,
		now:    time.Now,
		logger: utils.GetLogger().WithField("component", "relay_nats"),
		nodes:  make(map[string]*presence),
	}
}

// Name implements Transport
func (t *NATSTransport) Name() string { return TransportNATS }

// Start subscribes to presence announcements
func (t *NATSTransport) Start() error {
	sub, err := t.conn.Subscribe(t.subject("capability.*"), t.handleAnnouncement)
	if err != nil {
		return utils.WrapError(utils.ErrCodeConnection, "Failed to subscribe to announcements", err)
	}
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()
	return nil
}

// Stop removes the announcement subscription
func (t *NATSTransport) Stop() error {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (t *NATSTransport) handleAnnouncement(msg *nats.Msg) {
	capability := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]

	var a Announcement
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		t.logger.WithError(err).WithField("subject", msg.Subject).Debug("Ignoring malformed announcement")
		return
	}
	if err := a.Validate(); err != nil {
		t.logger.WithError(err).Debug("Ignoring invalid announcement")
		return
	}

	t.mu.Lock()
	t.nodes[capability+"/"+a.Node] = &presence{
		node:       a.Node,
		name:       a.Name,
		capability: capability,
		lastSeen:   t.now(),
	}
	t.mu.Unlock()
}

// Reachable implements Discovery. Nodes that have not announced within the
// presence TTL are skipped and forgotten.
func (t *NATSTransport) Reachable(ctx context.Context, capability string) ([]models.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.conn.IsConnected() {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "NATS not connected", "")
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	var eps []models.Endpoint
	for key, p := range t.nodes {
		if now.Sub(p.lastSeen) > t.ttl {
			delete(t.nodes, key)
			continue
		}
		if p.capability != capability {
			continue
		}
		eps = append(eps, models.Endpoint{
			ID:         p.node,
			Name:       p.name,
			Transport:  TransportNATS,
			Capability: p.capability,
			LastSeen:   p.lastSeen,
		})
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].ID < eps[j].ID })
	return eps, nil
}

// Send implements Sender
func (t *NATSTransport) Send(ctx context.Context, endpoint models.Endpoint, path string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	header := nats.Header{}
	header.Set("Path", path)
	if deadline, ok := ctx.Deadline(); ok {
		header.Set("Deadline", deadline.UTC().Format(time.RFC3339Nano))
	}

	err := t.conn.PublishMsg(&nats.Msg{
		Subject: t.nodeSubject(endpoint.ID, path),
		Data:    payload,
		Header:  header,
	})
	if err != nil {
		return utils.WrapError(utils.ErrCodeRelay, "Failed to publish to node", err)
	}
	return nil
}

func (t *NATSTransport) nodeSubject(node, path string) string {
	token := strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
	return t.subject(fmt.Sprintf("node.%s.%s", node, token))
}

func (t *NATSTransport) subject(s string) string {
	if t.prefix == "" {
		return s
	}
	return fmt.Sprintf("%s.%s", t.prefix, s)
}
