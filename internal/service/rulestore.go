package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	apperrors "telefeed/internal/errors"
	"telefeed/internal/license"
	"telefeed/internal/models"

	"github.com/sirupsen/logrus"
)

// RuleDatabase is the persistence surface the rule store needs.
type RuleDatabase interface {
	SaveRule(ctx context.Context, rule *models.Rule) error
	GetRule(ctx context.Context, account, name string) (*models.Rule, error)
	ListRules(ctx context.Context, account string) ([]models.Rule, error)
	ListAllRules(ctx context.Context) ([]models.Rule, error)
	DeleteRule(ctx context.Context, account, name string) error
	SetRuleActive(ctx context.Context, account, name string, active bool) error
	SaveFilterSet(ctx context.Context, fs *models.FilterSet) error
	GetFilterSets(ctx context.Context, account, ruleName string) ([]models.FilterSet, error)
	DeleteFilterSet(ctx context.Context, account, ruleName string, kind models.FilterKind) error
	SaveTransformSpec(ctx context.Context, spec *models.TransformSpec) error
	GetTransformSpec(ctx context.Context, account, ruleName string) (*models.TransformSpec, error)
	DeleteTransformSpec(ctx context.Context, account, ruleName string) error
}

// RuleStore manages redirection rules and their attached filter sets and
// transform specs. Every mutation persists synchronously before returning, so
// an acknowledged change survives a crash. Redirection slots are consumed
// from the license service on creation and released on removal.
type RuleStore struct {
	db       RuleDatabase
	licenser license.Licenser
	logger   *logrus.Logger
}

func NewRuleStore(db RuleDatabase, licenser license.Licenser, logger *logrus.Logger) *RuleStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleStore{
		db:       db,
		licenser: licenser,
		logger:   logger,
	}
}

// AddRule creates a named redirection. It fails with DUPLICATE_NAME if the
// (account, name) pair exists and QUOTA_EXCEEDED when the license service
// refuses a slot. The slot is released again if persistence fails.
func (s *RuleStore) AddRule(ctx context.Context, account, name string, sources, destinations []int64) (*models.Rule, error) {
	if err := validateRuleInput(name, sources, destinations); err != nil {
		return nil, err
	}

	existing, err := s.db.GetRule(ctx, account, name)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to check for existing rule")
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.ErrCodeDuplicateName, "rule name already exists").
			WithContext("account", account).
			WithContext("rule", name)
	}

	ok, err := s.licenser.HasAccess(ctx, account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodePermissionDenied, "account has no access")
	}

	if err := s.licenser.ConsumeRedirectionSlot(ctx, account); err != nil {
		return nil, err
	}

	rule := &models.Rule{
		Account:      account,
		Name:         name,
		Sources:      sources,
		Destinations: destinations,
		Active:       true,
		CreatedAt:    time.Now(),
	}

	if err := s.db.SaveRule(ctx, rule); err != nil {
		if releaseErr := s.licenser.ReleaseRedirectionSlot(ctx, account); releaseErr != nil {
			s.logger.WithError(releaseErr).Warn("Failed to release redirection slot after save failure")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to save rule")
	}

	s.logger.WithFields(logrus.Fields{
		"account": account,
		"rule":    name,
	}).Info("Redirection rule created")

	return rule, nil
}

// RemoveRule deletes the rule and cascades removal of its filter sets and
// transform spec, then releases the license slot.
func (s *RuleStore) RemoveRule(ctx context.Context, account, name string) error {
	if err := s.db.DeleteRule(ctx, account, name); err != nil {
		if isNoRows(err) {
			return apperrors.New(apperrors.ErrCodeNotFound, "rule not found").
				WithContext("account", account).
				WithContext("rule", name)
		}
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to delete rule")
	}

	if err := s.licenser.ReleaseRedirectionSlot(ctx, account); err != nil {
		s.logger.WithError(err).Warn("Failed to release redirection slot")
	}

	s.logger.WithFields(logrus.Fields{
		"account": account,
		"rule":    name,
	}).Info("Redirection rule removed")

	return nil
}

// ListRules returns a snapshot of the account's rules.
func (s *RuleStore) ListRules(ctx context.Context, account string) ([]models.Rule, error) {
	rules, err := s.db.ListRules(ctx, account)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to list rules")
	}
	return rules, nil
}

// SetActive toggles a rule without touching its configuration.
func (s *RuleStore) SetActive(ctx context.Context, account, name string, active bool) error {
	if err := s.db.SetRuleActive(ctx, account, name, active); err != nil {
		if isNoRows(err) {
			return apperrors.New(apperrors.ErrCodeNotFound, "rule not found")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to update rule")
	}
	return nil
}

// ChangeRule replaces the source and destination sets of an existing rule,
// keeping its name, active flag, and attached configuration.
func (s *RuleStore) ChangeRule(ctx context.Context, account, name string, sources, destinations []int64) (*models.Rule, error) {
	if err := validateRuleInput(name, sources, destinations); err != nil {
		return nil, err
	}

	rule, err := s.db.GetRule(ctx, account, name)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to load rule")
	}
	if rule == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "rule not found")
	}

	rule.Sources = sources
	rule.Destinations = destinations
	if err := s.db.SaveRule(ctx, rule); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to save rule")
	}
	return rule, nil
}

// SetDelay configures the minimum interval in seconds between deliveries for
// one rule. Zero disables rate limiting.
func (s *RuleStore) SetDelay(ctx context.Context, account, name string, delaySec int) error {
	if delaySec < 0 {
		return apperrors.New(apperrors.ErrCodeInvalidRuleSpec, "delay must not be negative")
	}

	rule, err := s.db.GetRule(ctx, account, name)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to load rule")
	}
	if rule == nil {
		return apperrors.New(apperrors.ErrCodeNotFound, "rule not found")
	}

	rule.DelaySec = delaySec
	if err := s.db.SaveRule(ctx, rule); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to save rule")
	}
	return nil
}

// SetFilter attaches or replaces one filter set (whitelist or blacklist) on a
// rule.
func (s *RuleStore) SetFilter(ctx context.Context, fs *models.FilterSet) error {
	if fs.Kind != models.FilterWhitelist && fs.Kind != models.FilterBlacklist {
		return apperrors.New(apperrors.ErrCodeInvalidRuleSpec, "filter kind must be whitelist or blacklist")
	}
	if err := s.requireRule(ctx, fs.Account, fs.RuleName); err != nil {
		return err
	}
	if err := s.db.SaveFilterSet(ctx, fs); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to save filter set")
	}
	return nil
}

// ClearFilter removes one filter set from a rule; clearing a missing set is
// not an error.
func (s *RuleStore) ClearFilter(ctx context.Context, account, ruleName string, kind models.FilterKind) error {
	if err := s.db.DeleteFilterSet(ctx, account, ruleName, kind); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to delete filter set")
	}
	return nil
}

// GetFilters returns the rule's filter sets, possibly empty.
func (s *RuleStore) GetFilters(ctx context.Context, account, ruleName string) ([]models.FilterSet, error) {
	sets, err := s.db.GetFilterSets(ctx, account, ruleName)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to load filter sets")
	}
	return sets, nil
}

// SetTransform attaches or replaces the transform spec of a rule.
func (s *RuleStore) SetTransform(ctx context.Context, spec *models.TransformSpec) error {
	if err := s.requireRule(ctx, spec.Account, spec.RuleName); err != nil {
		return err
	}
	if err := s.db.SaveTransformSpec(ctx, spec); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to save transform spec")
	}
	return nil
}

// ClearTransform removes the transform spec from a rule.
func (s *RuleStore) ClearTransform(ctx context.Context, account, ruleName string) error {
	if err := s.db.DeleteTransformSpec(ctx, account, ruleName); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to delete transform spec")
	}
	return nil
}

// GetTransform returns the rule's transform spec, nil when none is set.
func (s *RuleStore) GetTransform(ctx context.Context, account, ruleName string) (*models.TransformSpec, error) {
	spec, err := s.db.GetTransformSpec(ctx, account, ruleName)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to load transform spec")
	}
	return spec, nil
}

func (s *RuleStore) requireRule(ctx context.Context, account, name string) error {
	rule, err := s.db.GetRule(ctx, account, name)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to load rule")
	}
	if rule == nil {
		return apperrors.New(apperrors.ErrCodeNotFound, "rule not found").
			WithContext("account", account).
			WithContext("rule", name)
	}
	return nil
}

func validateRuleInput(name string, sources, destinations []int64) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.New(apperrors.ErrCodeInvalidRuleSpec, "rule name must not be empty")
	}
	if len(sources) == 0 {
		return apperrors.New(apperrors.ErrCodeInvalidRuleSpec, "rule needs at least one source conversation")
	}
	if len(destinations) == 0 {
		return apperrors.New(apperrors.ErrCodeInvalidRuleSpec, "rule needs at least one destination conversation")
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// ParseRuleSpec parses the operator form "SOURCE - DESTINATION" where each
// side is one or more numeric conversation ids separated by commas.
func ParseRuleSpec(spec string) (sources, destinations []int64, err error) {
	parts := strings.SplitN(spec, " - ", 2)
	if len(parts) != 2 {
		return nil, nil, apperrors.New(apperrors.ErrCodeInvalidRuleSpec,
			"rule spec must have the form SOURCE - DESTINATION")
	}

	sources, err = parseConvoList(parts[0])
	if err != nil {
		return nil, nil, err
	}
	destinations, err = parseConvoList(parts[1])
	if err != nil {
		return nil, nil, err
	}
	return sources, destinations, nil
}

func parseConvoList(s string) ([]int64, error) {
	fields := strings.Split(s, ",")
	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeInvalidRuleSpec,
				"conversation id must be numeric: "+field)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRuleSpec, "no conversation ids given")
	}
	return ids, nil
}
