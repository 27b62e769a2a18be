package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/store"
)

func decodeResult(t *testing.T, item *store.MaintenanceHistoryItem) map[string]float64 {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(item.Result, &out))
	nums := map[string]float64{}
	for k, v := range out {
		if f, ok := v.(float64); ok {
			nums[k] = f
		}
	}
	return nums
}

func TestRunMaintenance_Actions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Save(ctx, "alpha", newObservation("s1", "Indexed"))
	require.NoError(t, err)
	waitIdle(t, e)

	for _, action := range []string{ActionOptimize, ActionRebuildIndex} {
		for _, dry := range []bool{true, false} {
			item, err := e.RunMaintenance(ctx, action, dry)
			require.NoError(t, err, action)
			assert.Equal(t, action, item.Action)
			assert.Equal(t, dry, item.DryRun)
			assert.Equal(t, 1.0, decodeResult(t, item)["observations"])
		}
	}

	results, err := e.Search(ctx, "WAL", searchFilters("alpha"))
	require.NoError(t, err)
	assert.Len(t, results, 1, "index still answers after rebuild")

	_, err = e.RunMaintenance(ctx, "defrag", false)
	requireCode(t, err, CodeValidation)

	history, err := e.GetMaintenanceHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, ActionRebuildIndex, history[0].Action)
	assert.False(t, history[0].DryRun)
}

func TestRunMaintenance_PruneEntities(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.UpsertEntity(ctx, "orphan", "concept")
	require.NoError(t, err)

	item, err := e.RunMaintenance(ctx, ActionPruneEntities, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, decodeResult(t, item)["orphans"])

	found, err := e.FindEntities(ctx, "orphan", 5)
	require.NoError(t, err)
	assert.Len(t, found, 1, "dry run keeps the entity")

	item, err = e.RunMaintenance(ctx, ActionPruneEntities, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, decodeResult(t, item)["pruned"])

	found, err = e.FindEntities(ctx, "orphan", 5)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestRunMaintenance_Reembed(t *testing.T) {
	emb := &fakeEmbedder{}
	e := newTestEngine(t, withEmbeddings(emb))
	ctx := context.Background()

	obs, err := e.Save(ctx, "alpha", newObservation("s1", "Needs vector"))
	require.NoError(t, err)
	waitIdle(t, e)
	require.NoError(t, e.vectors.Delete(ctx, obs.ID))

	item, err := e.RunMaintenance(ctx, ActionReembed, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, decodeResult(t, item)["missing"])
	has, _ := e.vectors.Has(ctx, obs.ID)
	assert.False(t, has)

	item, err = e.RunMaintenance(ctx, ActionReembed, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, decodeResult(t, item)["embedded"])
	has, _ = e.vectors.Has(ctx, obs.ID)
	assert.True(t, has)
}

func TestRunMaintenance_ReembedRequiresEmbeddings(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.RunMaintenance(context.Background(), ActionReembed, false)
	requireCode(t, err, CodeValidation)

	item, err := e.RunMaintenance(context.Background(), ActionReembed, true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, decodeResult(t, item)["missing"])
}

func TestTrackMaintenanceResult(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.TrackMaintenanceResult(ctx, &store.MaintenanceHistoryItem{Action: "external-backup"}))
	requireCode(t, e.TrackMaintenanceResult(ctx, &store.MaintenanceHistoryItem{}), CodeValidation)

	history, err := e.GetMaintenanceHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "external-backup", history[0].Action)
	assert.JSONEq(t, "{}", string(history[0].Result))
}
