package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"telefeed/internal/models"
)

// Rule, filter set, and transform spec persistence. Conversation id lists and
// pattern lists are stored as JSON arrays in TEXT columns; they are small and
// never queried by element.

func marshalInt64s(values []int64) (string, error) {
	if values == nil {
		values = []int64{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal id list: %w", err)
	}
	return string(data), nil
}

func unmarshalInt64s(data string) ([]int64, error) {
	var values []int64
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal id list: %w", err)
	}
	return values, nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	return values, nil
}

func (d *Database) SaveRule(ctx context.Context, rule *models.Rule) error {
	sources, err := marshalInt64s(rule.Sources)
	if err != nil {
		return err
	}
	destinations, err := marshalInt64s(rule.Destinations)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rules (account, name, sources, destinations, active, delay_sec)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, name) DO UPDATE SET
			sources = excluded.sources,
			destinations = excluded.destinations,
			active = excluded.active,
			delay_sec = excluded.delay_sec
	`

	if _, err := d.db.ExecContext(ctx, query,
		rule.Account, rule.Name, sources, destinations, rule.Active, rule.DelaySec,
	); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (d *Database) GetRule(ctx context.Context, account, name string) (*models.Rule, error) {
	query := `
		SELECT account, name, sources, destinations, active, delay_sec, created_at
		FROM rules
		WHERE account = ? AND name = ?
	`

	rule := &models.Rule{}
	var sources, destinations string

	err := d.db.QueryRowContext(ctx, query, account, name).Scan(
		&rule.Account, &rule.Name, &sources, &destinations,
		&rule.Active, &rule.DelaySec, &rule.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	if rule.Sources, err = unmarshalInt64s(sources); err != nil {
		return nil, err
	}
	if rule.Destinations, err = unmarshalInt64s(destinations); err != nil {
		return nil, err
	}
	return rule, nil
}

func (d *Database) ListRules(ctx context.Context, account string) ([]models.Rule, error) {
	query := `
		SELECT account, name, sources, destinations, active, delay_sec, created_at
		FROM rules
		WHERE account = ?
		ORDER BY name
	`

	rows, err := d.db.QueryContext(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// ListAllRules returns every rule across all accounts, used to rebuild the
// in-memory routing index at startup.
func (d *Database) ListAllRules(ctx context.Context) ([]models.Rule, error) {
	query := `
		SELECT account, name, sources, destinations, active, delay_sec, created_at
		FROM rules
		ORDER BY account, name
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

func scanRules(rows *sql.Rows) ([]models.Rule, error) {
	var rules []models.Rule
	for rows.Next() {
		var rule models.Rule
		var sources, destinations string
		if err := rows.Scan(
			&rule.Account, &rule.Name, &sources, &destinations,
			&rule.Active, &rule.DelaySec, &rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		var err error
		if rule.Sources, err = unmarshalInt64s(sources); err != nil {
			return nil, err
		}
		if rule.Destinations, err = unmarshalInt64s(destinations); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes the rule and, in the same transaction, its attached
// filter sets and transform spec so no orphaned configuration survives.
func (d *Database) DeleteRule(ctx context.Context, account, name string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE account = ? AND name = ?`, account, name)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM filter_sets WHERE account = ? AND rule_name = ?`, account, name); err != nil {
		return fmt.Errorf("failed to delete filter sets: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transform_specs WHERE account = ? AND rule_name = ?`, account, name); err != nil {
		return fmt.Errorf("failed to delete transform spec: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule deletion: %w", err)
	}
	return nil
}

func (d *Database) SetRuleActive(ctx context.Context, account, name string, active bool) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE rules SET active = ? WHERE account = ? AND name = ?`,
		active, account, name,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Filter set operations

func (d *Database) SaveFilterSet(ctx context.Context, fs *models.FilterSet) error {
	patterns, err := marshalStrings(fs.Patterns)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO filter_sets (account, rule_name, kind, patterns, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account, rule_name, kind) DO UPDATE SET
			patterns = excluded.patterns,
			active = excluded.active
	`

	if _, err := d.db.ExecContext(ctx, query,
		fs.Account, fs.RuleName, string(fs.Kind), patterns, fs.Active,
	); err != nil {
		return fmt.Errorf("failed to save filter set: %w", err)
	}
	return nil
}

func (d *Database) GetFilterSets(ctx context.Context, account, ruleName string) ([]models.FilterSet, error) {
	query := `
		SELECT account, rule_name, kind, patterns, active
		FROM filter_sets
		WHERE account = ? AND rule_name = ?
	`

	rows, err := d.db.QueryContext(ctx, query, account, ruleName)
	if err != nil {
		return nil, fmt.Errorf("failed to get filter sets: %w", err)
	}
	defer rows.Close()

	var sets []models.FilterSet
	for rows.Next() {
		var fs models.FilterSet
		var kind, patterns string
		if err := rows.Scan(&fs.Account, &fs.RuleName, &kind, &patterns, &fs.Active); err != nil {
			return nil, fmt.Errorf("failed to scan filter set: %w", err)
		}
		fs.Kind = models.FilterKind(kind)
		if fs.Patterns, err = unmarshalStrings(patterns); err != nil {
			return nil, err
		}
		sets = append(sets, fs)
	}
	return sets, rows.Err()
}

func (d *Database) DeleteFilterSet(ctx context.Context, account, ruleName string, kind models.FilterKind) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM filter_sets WHERE account = ? AND rule_name = ? AND kind = ?`,
		account, ruleName, string(kind),
	); err != nil {
		return fmt.Errorf("failed to delete filter set: %w", err)
	}
	return nil
}

// Transform spec operations

func (d *Database) SaveTransformSpec(ctx context.Context, spec *models.TransformSpec) error {
	powerRules, err := marshalStrings(spec.PowerRules)
	if err != nil {
		return err
	}
	removeLines, err := marshalStrings(spec.RemoveLines)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transform_specs (account, rule_name, format, power_rules, remove_lines)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account, rule_name) DO UPDATE SET
			format = excluded.format,
			power_rules = excluded.power_rules,
			remove_lines = excluded.remove_lines
	`

	if _, err := d.db.ExecContext(ctx, query,
		spec.Account, spec.RuleName, spec.Format, powerRules, removeLines,
	); err != nil {
		return fmt.Errorf("failed to save transform spec: %w", err)
	}
	return nil
}

func (d *Database) GetTransformSpec(ctx context.Context, account, ruleName string) (*models.TransformSpec, error) {
	query := `
		SELECT account, rule_name, format, power_rules, remove_lines
		FROM transform_specs
		WHERE account = ? AND rule_name = ?
	`

	spec := &models.TransformSpec{}
	var powerRules, removeLines string

	err := d.db.QueryRowContext(ctx, query, account, ruleName).Scan(
		&spec.Account, &spec.RuleName, &spec.Format, &powerRules, &removeLines,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transform spec: %w", err)
	}

	if spec.PowerRules, err = unmarshalStrings(powerRules); err != nil {
		return nil, err
	}
	if spec.RemoveLines, err = unmarshalStrings(removeLines); err != nil {
		return nil, err
	}
	return spec, nil
}

func (d *Database) DeleteTransformSpec(ctx context.Context, account, ruleName string) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM transform_specs WHERE account = ? AND rule_name = ?`,
		account, ruleName,
	); err != nil {
		return fmt.Errorf("failed to delete transform spec: %w", err)
	}
	return nil
}
