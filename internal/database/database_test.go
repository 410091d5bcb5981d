package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"telefeed/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDatabase(t *testing.T) *Database {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("\x00bad")
	assert.Error(t, err)
}

func TestRuleRoundTrip(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	rule := &models.Rule{
		Account:      "33600000000",
		Name:         "news",
		Sources:      []int64{111, 222},
		Destinations: []int64{333},
		Active:       true,
		DelaySec:     5,
	}
	require.NoError(t, db.SaveRule(ctx, rule))

	got, err := db.GetRule(ctx, "33600000000", "news")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rule.Sources, got.Sources)
	assert.Equal(t, rule.Destinations, got.Destinations)
	assert.True(t, got.Active)
	assert.Equal(t, 5, got.DelaySec)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetRule_NotFound(t *testing.T) {
	db := setupTestDatabase(t)

	got, err := db.GetRule(context.Background(), "33600000000", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveRule_UpsertReplaces(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	rule := &models.Rule{
		Account:      "33600000000",
		Name:         "news",
		Sources:      []int64{111},
		Destinations: []int64{333},
		Active:       true,
	}
	require.NoError(t, db.SaveRule(ctx, rule))

	rule.Sources = []int64{999}
	rule.Active = false
	require.NoError(t, db.SaveRule(ctx, rule))

	got, err := db.GetRule(ctx, "33600000000", "news")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []int64{999}, got.Sources)
	assert.False(t, got.Active)

	rules, err := db.ListRules(ctx, "33600000000")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestListRules_ScopedToAccount(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveRule(ctx, &models.Rule{
		Account: "acct-a", Name: "one", Sources: []int64{1}, Destinations: []int64{2},
	}))
	require.NoError(t, db.SaveRule(ctx, &models.Rule{
		Account: "acct-b", Name: "two", Sources: []int64{3}, Destinations: []int64{4},
	}))

	rules, err := db.ListRules(ctx, "acct-a")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "one", rules[0].Name)

	all, err := db.ListAllRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetRuleActive(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveRule(ctx, &models.Rule{
		Account: "acct", Name: "news", Sources: []int64{1}, Destinations: []int64{2}, Active: true,
	}))

	require.NoError(t, db.SetRuleActive(ctx, "acct", "news", false))

	got, err := db.GetRule(ctx, "acct", "news")
	require.NoError(t, err)
	assert.False(t, got.Active)

	err = db.SetRuleActive(ctx, "acct", "missing", true)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDeleteRule_CascadesFiltersAndTransform(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveRule(ctx, &models.Rule{
		Account: "acct", Name: "news", Sources: []int64{1}, Destinations: []int64{2},
	}))
	require.NoError(t, db.SaveFilterSet(ctx, &models.FilterSet{
		Account: "acct", RuleName: "news", Kind: models.FilterBlacklist,
		Patterns: []string{"spam"}, Active: true,
	}))
	require.NoError(t, db.SaveTransformSpec(ctx, &models.TransformSpec{
		Account: "acct", RuleName: "news", Format: "[[Message.Text]]",
	}))

	require.NoError(t, db.DeleteRule(ctx, "acct", "news"))

	got, err := db.GetRule(ctx, "acct", "news")
	require.NoError(t, err)
	assert.Nil(t, got)

	sets, err := db.GetFilterSets(ctx, "acct", "news")
	require.NoError(t, err)
	assert.Empty(t, sets)

	spec, err := db.GetTransformSpec(ctx, "acct", "news")
	require.NoError(t, err)
	assert.Nil(t, spec)
}

func TestDeleteRule_NotFound(t *testing.T) {
	db := setupTestDatabase(t)

	err := db.DeleteRule(context.Background(), "acct", "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestFilterSetRoundTrip(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveFilterSet(ctx, &models.FilterSet{
		Account: "acct", RuleName: "news", Kind: models.FilterBlacklist,
		Patterns: []string{"spam", `"literal"`}, Active: true,
	}))
	require.NoError(t, db.SaveFilterSet(ctx, &models.FilterSet{
		Account: "acct", RuleName: "news", Kind: models.FilterWhitelist,
		Patterns: []string{"keep"}, Active: false,
	}))

	sets, err := db.GetFilterSets(ctx, "acct", "news")
	require.NoError(t, err)
	require.Len(t, sets, 2)

	byKind := make(map[models.FilterKind]models.FilterSet)
	for _, fs := range sets {
		byKind[fs.Kind] = fs
	}
	assert.Equal(t, []string{"spam", `"literal"`}, byKind[models.FilterBlacklist].Patterns)
	assert.True(t, byKind[models.FilterBlacklist].Active)
	assert.False(t, byKind[models.FilterWhitelist].Active)

	// Upsert replaces the pattern list for the same kind.
	require.NoError(t, db.SaveFilterSet(ctx, &models.FilterSet{
		Account: "acct", RuleName: "news", Kind: models.FilterBlacklist,
		Patterns: []string{"other"}, Active: true,
	}))
	sets, err = db.GetFilterSets(ctx, "acct", "news")
	require.NoError(t, err)
	assert.Len(t, sets, 2)

	require.NoError(t, db.DeleteFilterSet(ctx, "acct", "news", models.FilterWhitelist))
	sets, err = db.GetFilterSets(ctx, "acct", "news")
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, models.FilterBlacklist, sets[0].Kind)
}

func TestTransformSpecRoundTrip(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	spec := &models.TransformSpec{
		Account:     "acct",
		RuleName:    "news",
		Format:      "fwd: [[Message.Text]]",
		PowerRules:  []string{"red=blue"},
		RemoveLines: []string{"ad"},
	}
	require.NoError(t, db.SaveTransformSpec(ctx, spec))

	got, err := db.GetTransformSpec(ctx, "acct", "news")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, spec.Format, got.Format)
	assert.Equal(t, spec.PowerRules, got.PowerRules)
	assert.Equal(t, spec.RemoveLines, got.RemoveLines)

	require.NoError(t, db.DeleteTransformSpec(ctx, "acct", "news"))
	got, err = db.GetTransformSpec(ctx, "acct", "news")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionRoundTrip(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	session := &models.AccountSession{
		Account:     "33600000000",
		State:       models.SessionAuthenticated,
		AuthBlob:    "opaque-blob",
		ConnectedAt: &now,
	}
	require.NoError(t, db.SaveSession(ctx, session))

	got, err := db.GetSession(ctx, "33600000000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SessionAuthenticated, got.State)
	assert.Equal(t, "opaque-blob", got.AuthBlob)
	require.NotNil(t, got.ConnectedAt)

	// Upsert transitions the state in place.
	session.State = models.SessionExpired
	session.AuthBlob = ""
	require.NoError(t, db.SaveSession(ctx, session))

	got, err = db.GetSession(ctx, "33600000000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SessionExpired, got.State)
	assert.Empty(t, got.AuthBlob)

	sessions, err := db.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.NoError(t, db.DeleteSession(ctx, "33600000000"))
	got, err = db.GetSession(ctx, "33600000000")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetSession_NotFound(t *testing.T) {
	db := setupTestDatabase(t)

	got, err := db.GetSession(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCorrelationRoundTrip(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	entry := &models.CorrelationEntry{
		Account:     "acct",
		SourceConvo: 111,
		SourceMsgID: 42,
		DestConvo:   333,
		DestMsgID:   900,
		Status:      models.DeliveryStatusSent,
	}
	require.NoError(t, db.SaveCorrelation(ctx, entry))
	require.NoError(t, db.SaveCorrelation(ctx, &models.CorrelationEntry{
		Account: "acct", SourceConvo: 111, SourceMsgID: 42,
		DestConvo: 444, DestMsgID: 901, Status: models.DeliveryStatusSent,
	}))

	corrs, err := db.GetCorrelations(ctx, "acct", 111, 42)
	require.NoError(t, err)
	require.Len(t, corrs, 2)
	assert.Equal(t, int64(900), corrs[333])
	assert.Equal(t, int64(901), corrs[444])

	// Re-saving the same source/destination pair refreshes the mapping.
	entry.DestMsgID = 950
	require.NoError(t, db.SaveCorrelation(ctx, entry))
	corrs, err = db.GetCorrelations(ctx, "acct", 111, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(950), corrs[333])
}

func TestGetCorrelations_NoneFound(t *testing.T) {
	db := setupTestDatabase(t)

	corrs, err := db.GetCorrelations(context.Background(), "acct", 111, 42)
	require.NoError(t, err)
	assert.Nil(t, corrs)
}

func TestUpdateCorrelationStatus(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCorrelation(ctx, &models.CorrelationEntry{
		Account: "acct", SourceConvo: 111, SourceMsgID: 42,
		DestConvo: 333, DestMsgID: 900, Status: models.DeliveryStatusSent,
	}))

	require.NoError(t, db.UpdateCorrelationStatus(ctx, "acct", 111, 42, 333, models.DeliveryStatusEdited))

	err := db.UpdateCorrelationStatus(ctx, "acct", 111, 42, 999, models.DeliveryStatusEdited)
	assert.Error(t, err)
}

func TestCleanupOldCorrelations_KeepsRecentEntries(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCorrelation(ctx, &models.CorrelationEntry{
		Account: "acct", SourceConvo: 111, SourceMsgID: 42,
		DestConvo: 333, DestMsgID: 900, Status: models.DeliveryStatusSent,
	}))

	require.NoError(t, db.CleanupOldCorrelations(30))

	corrs, err := db.GetCorrelations(ctx, "acct", 111, 42)
	require.NoError(t, err)
	assert.Len(t, corrs, 1)
}
