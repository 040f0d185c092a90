package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Router merges several transports into one Discovery and Sender. Sends
// are dispatched on Endpoint.Transport.
type Router struct {
	transports []Transport
	byName     map[string]Transport
	logger     *logrus.Entry
}

// NewRouter creates a router over the given transports
func NewRouter(transports ...Transport) *Router {
	r := &Router{
		byName: make(map[string]Transport, len(transports)),
		logger: utils.GetLogger().WithField("component", "relay_router"),
	}
	for _, t := range transports {
		if t == nil {
			continue
		}
		r.transports = append(r.transports, t)
		r.byName[t.Name()] = t
	}
	return r
}

// Transports returns the names of the registered transports
func (r *Router) Transports() []string {
	names := make([]string, 0, len(r.transports))
	for _, t := range r.transports {
		names = append(names, t.Name())
	}
	return names
}

// Reachable implements Discovery. A failing transport is skipped; an error
// is returned only when every transport failed.
func (r *Router) Reachable(ctx context.Context, capability string) ([]models.Endpoint, error) {
	var all []models.Endpoint
	var errs []error

	for _, t := range r.transports {
		eps, err := t.Reachable(ctx, capability)
		if err != nil {
			r.logger.WithError(err).WithField("transport", t.Name()).Warn("Transport lookup failed")
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		for _, ep := range eps {
			if ep.Transport == "" {
				ep.Transport = t.Name()
			}
			all = append(all, ep)
		}
	}

	if len(errs) > 0 && len(errs) == len(r.transports) {
		return nil, utils.NewAppError(utils.ErrCodeRelay, "All endpoint lookups failed", errors.Join(errs...).Error())
	}
	return all, nil
}

// Send implements Sender
func (r *Router) Send(ctx context.Context, endpoint models.Endpoint, path string, payload []byte) error {
	t, ok := r.byName[endpoint.Transport]
	if !ok {
		return utils.NewAppError(utils.ErrCodeRelay, "Unknown transport", endpoint.Transport)
	}
	return t.Send(ctx, endpoint, path, payload)
}
