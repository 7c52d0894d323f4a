package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rezkam/flow7/internal/domain"
	"github.com/rezkam/flow7/internal/tz"
)

// Defaults for the per-token retry policy.
const (
	DefaultRetries        = 3
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultAttemptTimeout = 10 * time.Second
)

// Dispatcher delivers the notification for a fired job: load plan, check
// the notified and enabled gates, fan out to the user's devices, then
// mark notified. Deliver-then-mark keeps the notified flag the
// idempotency anchor.
type Dispatcher struct {
	plans    PlanStore
	settings SettingsReader
	devices  DeviceReader
	zones    ZoneResolver
	channel  DeliveryChannel

	retries        int
	backoffBase    time.Duration
	attemptTimeout time.Duration
	sleep          func(ctx context.Context, d time.Duration)
}

// Option is a functional option for configuring Dispatcher.
type Option func(*Dispatcher)

// WithRetries sets the per-token attempt count.
func WithRetries(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.retries = n
		}
	}
}

// WithBackoffBase sets the base delay of the exponential backoff.
func WithBackoffBase(base time.Duration) Option {
	return func(d *Dispatcher) { d.backoffBase = base }
}

// WithAttemptTimeout bounds each individual channel call.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.attemptTimeout = timeout }
}

// WithSleep replaces the backoff sleep, letting tests run without real
// delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// New creates a Dispatcher.
func New(plans PlanStore, settings SettingsReader, devices DeviceReader, zones ZoneResolver, channel DeliveryChannel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		plans:          plans,
		settings:       settings,
		devices:        devices,
		zones:          zones,
		channel:        channel,
		retries:        DefaultRetries,
		backoffBase:    DefaultBackoffBase,
		attemptTimeout: DefaultAttemptTimeout,
		sleep: func(ctx context.Context, dur time.Duration) {
			t := time.NewTimer(dur)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch is the job entry point. A nil return means the job is done,
// including the deliberate-suppression paths; the error path covers
// store failures only, never delivery failures.
func (d *Dispatcher) Dispatch(ctx context.Context, planID string) error {
	p, err := d.plans.FindPlanByID(ctx, planID)
	if errors.Is(err, domain.ErrPlanNotFound) {
		slog.InfoContext(ctx, "plan gone before dispatch", "plan_id", planID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}
	if p.Notified {
		return nil
	}

	settings, err := d.settings.GetSettings(ctx, p.UserID)
	if err != nil && !errors.Is(err, domain.ErrSettingsNotFound) {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if settings != nil && !settings.NotificationsEnabled {
		slog.InfoContext(ctx, "notifications disabled, suppressing", "plan_id", planID, "uid", p.UserID)
		return d.plans.MarkNotified(ctx, planID)
	}

	endpoints, err := d.devices.ListDevices(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(endpoints) == 0 {
		slog.InfoContext(ctx, "no devices registered, nothing to deliver", "plan_id", planID, "uid", p.UserID)
		return nil
	}

	msg := d.buildMessage(ctx, p)
	tokens := make([]string, len(endpoints))
	for i, e := range endpoints {
		tokens[i] = e.Token
	}

	d.fanOut(ctx, tokens, msg)

	if err := d.plans.MarkNotified(ctx, planID); err != nil {
		return fmt.Errorf("failed to mark notified: %w", err)
	}
	return nil
}

// buildMessage renders the notification. The job fires on a UTC instant
// but the body shows the times as they read in the user's current zone.
func (d *Dispatcher) buildMessage(ctx context.Context, p *domain.Plan) Message {
	loc := d.zones.EffectiveZone(ctx, p.UserID)

	_, start := tz.UTCToLocal(loc, tz.LocalToUTC(loc, p.Date, p.StartTime))
	startStr := start.String()

	endStr := ""
	if p.EndTime != nil {
		_, end := tz.UTCToLocal(loc, tz.LocalToUTC(loc, p.Date, *p.EndTime))
		endStr = end.String()
	}

	var b strings.Builder
	b.WriteString(p.Title)
	b.WriteString("\n")
	if p.Description != "" {
		b.WriteString(p.Description)
		b.WriteString("\n")
	}
	b.WriteString(startStr)
	if endStr != "" {
		b.WriteString(" - ")
		b.WriteString(endStr)
	}

	return Message{
		Title: p.Title,
		Body:  b.String(),
		Data: map[string]string{
			"type":       "plan_notification",
			"date":       p.Date.String(),
			"start_time": startStr,
			"end_time":   endStr,
		},
	}
}

// fanOut prefers a single multicast call; per-token retry applies only
// when the channel has no multicast capability or the batch call itself
// fails. Per-token failures inside a successful batch are logged and
// accepted.
func (d *Dispatcher) fanOut(ctx context.Context, tokens []string, msg Message) {
	if mc, ok := d.channel.(MulticastChannel); ok {
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		result, err := mc.SendMulticast(attemptCtx, tokens, msg)
		cancel()
		if err == nil {
			for token, tokenErr := range result.Errors {
				slog.WarnContext(ctx, "multicast delivery failed for token", "token", token, "error", tokenErr)
			}
			slog.InfoContext(ctx, "multicast delivered",
				"success", result.SuccessCount, "failure", result.FailureCount)
			return
		}
		slog.WarnContext(ctx, "multicast failed, falling back to per-token sends", "error", err)
	}

	for _, token := range tokens {
		if err := d.sendWithRetry(ctx, token, msg); err != nil {
			slog.WarnContext(ctx, "delivery failed after retries", "token", token, "error", err)
		}
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, token string, msg Message) error {
	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		lastErr = d.channel.SendSingle(attemptCtx, token, msg)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt < d.retries {
			// base * 2^(attempt-1)
			d.sleep(ctx, d.backoffBase<<(attempt-1))
		}
	}
	return lastErr
}
