package service

import (
	"context"
	"sync"
	"time"

	apperrors "telefeed/internal/errors"
	"telefeed/internal/metrics"
	"telefeed/internal/models"
	"telefeed/internal/retry"
	"telefeed/internal/tracing"
	"telefeed/pkg/telegram"
	"telefeed/pkg/telegram/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DispatchDatabase is the persistence surface the dispatcher needs: rule
// configuration reads plus the correlation table.
type DispatchDatabase interface {
	ListRules(ctx context.Context, account string) ([]models.Rule, error)
	GetFilterSets(ctx context.Context, account, ruleName string) ([]models.FilterSet, error)
	GetTransformSpec(ctx context.Context, account, ruleName string) (*models.TransformSpec, error)
	SaveCorrelation(ctx context.Context, entry *models.CorrelationEntry) error
	GetCorrelations(ctx context.Context, account string, sourceConvo, sourceMsgID int64) (map[int64]int64, error)
	UpdateCorrelationStatus(ctx context.Context, account string, sourceConvo, sourceMsgID, destConvo int64, status models.DeliveryStatus) error
}

// Dispatcher turns one inbound event into zero or more deliveries. For each
// active rule listing the event's conversation as a source it runs filter,
// transform, and rate limiting, then fans out to the rule's destinations.
// Edits are propagated through the correlation table; when an edit cannot be
// applied downstream a marked new send is issued instead of dropping the
// update. A failure on one (rule, destination) never blocks the others.
type Dispatcher struct {
	gateway     telegram.Client
	db          DispatchDatabase
	filter      *FilterEngine
	transform   *TransformPipeline
	limiter     *RateLimiter
	backoff     *retry.Backoff
	metrics     *metrics.Registry
	logger      *logrus.Logger
	sendTimeout time.Duration
	editMarker  string
}

type DispatcherOptions struct {
	SendTimeout time.Duration
	EditMarker  string
}

func NewDispatcher(
	gateway telegram.Client,
	db DispatchDatabase,
	filter *FilterEngine,
	transform *TransformPipeline,
	limiter *RateLimiter,
	backoff *retry.Backoff,
	reg *metrics.Registry,
	logger *logrus.Logger,
	opts DispatcherOptions,
) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		gateway:     gateway,
		db:          db,
		filter:      filter,
		transform:   transform,
		limiter:     limiter,
		backoff:     backoff,
		metrics:     reg,
		logger:      logger,
		sendTimeout: opts.SendTimeout,
		editMarker:  opts.EditMarker,
	}
}

// HandleEvent processes one upstream event. Called sequentially per account
// by the registry loop; fan-out within the event runs concurrently.
func (d *Dispatcher) HandleEvent(ctx context.Context, event types.MessageEvent) {
	ctx, span := tracing.StartSpan(ctx, "dispatcher.HandleEvent",
		attribute.String("event.kind", string(event.Kind)),
		attribute.Int64("event.convo", event.Convo),
	)
	defer span.End()

	switch event.Kind {
	case types.EventNewMessage:
		d.handleNewMessage(ctx, event)
	case types.EventMessageEdited:
		d.handleEdit(ctx, event)
	default:
		d.logger.WithField("kind", event.Kind).Debug("Ignoring event")
	}
}

func (d *Dispatcher) handleNewMessage(ctx context.Context, event types.MessageEvent) {
	rules, err := d.db.ListRules(ctx, event.Account)
	if err != nil {
		d.logger.WithError(err).Error("Failed to load rules for event")
		tracing.RecordError(ctx, err)
		return
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.Active || !rule.HasSource(event.Convo) {
			continue
		}

		text, ok := d.prepare(ctx, rule, event.Text)
		if !ok {
			continue
		}

		if !d.limiter.Allow(rule.Account, rule.Name, time.Duration(rule.DelaySec)*time.Second) {
			d.metrics.IncrementCounter("deliveries_rate_limited", ruleLabels(rule))
			d.logger.WithFields(logrus.Fields{
				"account": rule.Account,
				"rule":    rule.Name,
			}).Debug("Delivery dropped by rate limit")
			continue
		}

		// Destinations are independent; one failing must not delay or
		// block the others.
		var wg sync.WaitGroup
		for _, dest := range rule.Destinations {
			wg.Add(1)
			go func(dest int64) {
				defer wg.Done()
				d.deliverNew(ctx, rule, event, dest, text)
			}(dest)
		}
		wg.Wait()
	}
}

func (d *Dispatcher) handleEdit(ctx context.Context, event types.MessageEvent) {
	rules, err := d.db.ListRules(ctx, event.Account)
	if err != nil {
		d.logger.WithError(err).Error("Failed to load rules for edit event")
		tracing.RecordError(ctx, err)
		return
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.Active || !rule.HasSource(event.Convo) {
			continue
		}

		text, ok := d.prepare(ctx, rule, event.Text)
		if !ok {
			continue
		}

		correlations, err := d.db.GetCorrelations(ctx, event.Account, event.Convo, event.MsgID)
		if err != nil {
			d.logger.WithError(err).Error("Failed to look up correlations for edit")
			correlations = nil
		}

		var wg sync.WaitGroup
		for _, dest := range rule.Destinations {
			wg.Add(1)
			go func(dest int64) {
				defer wg.Done()
				d.propagateEdit(ctx, rule, event, dest, text, correlations)
			}(dest)
		}
		wg.Wait()
	}
}

// prepare runs filter and transform for one rule. A transform error means
// the output would be malformed; the message fails the rule and is logged,
// never delivered.
func (d *Dispatcher) prepare(ctx context.Context, rule *models.Rule, text string) (string, bool) {
	sets, err := d.db.GetFilterSets(ctx, rule.Account, rule.Name)
	if err != nil {
		d.logger.WithError(err).Error("Failed to load filter sets, failing rule for this message")
		return "", false
	}
	if !d.filter.ShouldProcess(text, sets) {
		d.metrics.IncrementCounter("deliveries_filtered", ruleLabels(rule))
		return "", false
	}

	spec, err := d.db.GetTransformSpec(ctx, rule.Account, rule.Name)
	if err != nil {
		d.logger.WithError(err).Error("Failed to load transform spec, failing rule for this message")
		return "", false
	}

	out, err := d.transform.Apply(text, spec)
	if err != nil {
		d.metrics.IncrementCounter("deliveries_transform_failed", ruleLabels(rule))
		d.logger.WithFields(logrus.Fields{
			"account": rule.Account,
			"rule":    rule.Name,
		}).WithError(err).Error("Transform failed, message not delivered")
		return "", false
	}
	return out, true
}

func (d *Dispatcher) deliverNew(ctx context.Context, rule *models.Rule, event types.MessageEvent, dest int64, text string) {
	start := time.Now()
	resp, err := d.sendWithRetry(ctx, rule.Account, dest, text)
	d.metrics.RecordTimer("delivery_duration", time.Since(start), nil)

	if err != nil {
		d.metrics.IncrementCounter("deliveries_failed", ruleLabels(rule))
		d.logger.WithFields(logrus.Fields{
			"account": rule.Account,
			"rule":    rule.Name,
			"dest":    dest,
		}).WithError(err).Error("Delivery failed")
		tracing.RecordError(ctx, err)
		return
	}

	entry := &models.CorrelationEntry{
		Account:     rule.Account,
		SourceConvo: event.Convo,
		SourceMsgID: event.MsgID,
		DestConvo:   dest,
		DestMsgID:   resp.MsgID,
		Status:      models.DeliveryStatusSent,
		ForwardedAt: time.Now(),
	}
	if err := d.db.SaveCorrelation(ctx, entry); err != nil {
		// Delivered but untracked: a later edit will fall back to a
		// marked send for this destination.
		d.logger.WithError(err).Error("Failed to record correlation")
	}
	d.metrics.IncrementCounter("deliveries_sent", ruleLabels(rule))
}

// propagateEdit edits the correlated destination message, falling back to a
// marked new send when no correlation exists or the platform refuses the
// edit. The fallback itself never raises; a failed fallback is only logged.
func (d *Dispatcher) propagateEdit(ctx context.Context, rule *models.Rule, event types.MessageEvent, dest int64, text string, correlations map[int64]int64) {
	destMsgID, found := correlations[dest]

	if found {
		editCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.gateway.EditMessage(editCtx, types.EditMessageRequest{
			Account: rule.Account,
			Convo:   dest,
			MsgID:   destMsgID,
			Text:    text,
		})
		cancel()

		if err == nil {
			if err := d.db.UpdateCorrelationStatus(ctx, rule.Account, event.Convo, event.MsgID, dest, models.DeliveryStatusEdited); err != nil {
				d.logger.WithError(err).Warn("Failed to mark correlation edited")
			}
			d.metrics.IncrementCounter("edits_applied", ruleLabels(rule))
			return
		}

		d.logger.WithFields(logrus.Fields{
			"account": rule.Account,
			"rule":    rule.Name,
			"dest":    dest,
		}).WithError(err).Warn("Edit rejected, sending marked replacement")
	}

	resp, err := d.sendWithRetry(ctx, rule.Account, dest, d.editMarker+text)
	if err != nil {
		d.metrics.IncrementCounter("edits_failed", ruleLabels(rule))
		d.logger.WithFields(logrus.Fields{
			"account": rule.Account,
			"rule":    rule.Name,
			"dest":    dest,
		}).WithError(err).Error("Edit fallback send failed")
		return
	}

	entry := &models.CorrelationEntry{
		Account:     rule.Account,
		SourceConvo: event.Convo,
		SourceMsgID: event.MsgID,
		DestConvo:   dest,
		DestMsgID:   resp.MsgID,
		Status:      models.DeliveryStatusEdited,
		ForwardedAt: time.Now(),
	}
	if err := d.db.SaveCorrelation(ctx, entry); err != nil {
		d.logger.WithError(err).Error("Failed to record fallback correlation")
	}
	d.metrics.IncrementCounter("edits_fallback_sent", ruleLabels(rule))
}

// sendWithRetry applies the send timeout and retries transient platform
// failures with backoff. Permission and auth errors fail immediately.
func (d *Dispatcher) sendWithRetry(ctx context.Context, account string, dest int64, text string) (*types.SendMessageResponse, error) {
	var resp *types.SendMessageResponse
	err := d.backoff.RetryWithPredicate(ctx, func() error {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()

		var sendErr error
		resp, sendErr = d.gateway.SendMessage(sendCtx, types.SendMessageRequest{
			Account: account,
			Convo:   dest,
			Text:    text,
		})
		if sendErr != nil && sendCtx.Err() == context.DeadlineExceeded {
			return apperrors.WrapRetryable(sendErr, apperrors.ErrCodeTimeout, "send timed out")
		}
		return sendErr
	}, apperrors.IsRetryable)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// TestDelivery sends text directly to one destination, bypassing rules. Used
// for operator diagnostics; returns the delivered message id.
func (d *Dispatcher) TestDelivery(ctx context.Context, account string, dest int64, text string) (int64, error) {
	resp, err := d.sendWithRetry(ctx, account, dest, text)
	if err != nil {
		return 0, err
	}
	return resp.MsgID, nil
}

func ruleLabels(rule *models.Rule) map[string]string {
	return map[string]string{
		"account": rule.Account,
		"rule":    rule.Name,
	}
}
