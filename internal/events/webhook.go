package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"brandline/internal/config"
	"brandline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink POSTs events as JSON to every enabled hook whose filter matches.
// All hooks share one rate limiter.
type WebhookSink struct {
	hooks   []config.WebhookConfig
	filters []eventFilter
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookSink returns nil when no hook is enabled. A zero rate disables throttling.
func NewWebhookSink(hooks []config.WebhookConfig, perSecond float64) *WebhookSink {
	s := &WebhookSink{
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	if perSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		s.hooks = append(s.hooks, hook)
		s.filters = append(s.filters, newEventFilter(hook.Events))
	}
	if len(s.hooks) == 0 {
		return nil
	}
	return s
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, evt domain.JobStatusChanged) error {
	var errs []error
	for i, hook := range s.hooks {
		if !s.filters[i].match(evt) {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := s.post(ctx, hook, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

type webhookEvent struct {
	Type  string                  `json:"type"`
	Event domain.JobStatusChanged `json:"event"`
}

func (s *WebhookSink) post(ctx context.Context, hook config.WebhookConfig, evt domain.JobStatusChanged) error {
	data, err := json.Marshal(webhookEvent{Type: "job.status_changed", Event: evt})
	if err != nil {
		return err
	}
	if hook.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(hook.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brandline-Event", string(evt.Action))
	req.Header.Set("X-Brandline-Delivery", uuid.NewString())
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Brandline-Secret", hook.Secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// eventFilter matches an event by action or by new status.
type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt domain.JobStatusChanged) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[string(evt.Action)]; ok {
		return true
	}
	_, ok := f.set[string(evt.NewStatus)]
	return ok
}
