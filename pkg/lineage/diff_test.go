package lineage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/store"
)

func TestDiff_Summary(t *testing.T) {
	base := func() *store.Observation {
		return &store.Observation{
			ID:         "a",
			Type:       store.TypeBugfix,
			Title:      "fix race",
			Narrative:  "mutex added",
			Facts:      []string{"one", "two"},
			Importance: 3,
		}
	}

	tests := []struct {
		name    string
		mutate  func(o *store.Observation)
		fields  []string
		summary string
	}{
		{"identical", func(o *store.Observation) {}, nil, "no material changes"},
		{"one field", func(o *store.Observation) { o.Title = "fix data race" }, []string{"title"}, "1 field: title"},
		{
			"two fields",
			func(o *store.Observation) { o.Title = "x"; o.Narrative = "y" },
			[]string{"title", "narrative"},
			"2 fields: title, narrative",
		},
		{
			"list order matters",
			func(o *store.Observation) { o.Facts = []string{"two", "one"} },
			[]string{"facts"},
			"1 field: facts",
		},
		{
			"canonical order",
			func(o *store.Observation) { o.Importance = 5; o.Type = store.TypeFeature; o.Subtitle = "s" },
			[]string{"subtitle", "type", "importance"},
			"3 fields: subtitle, type, importance",
		},
		{
			"ignores non content fields",
			func(o *store.Observation) { o.ID = "b"; o.ToolName = "Edit"; o.TokenCount = 99 },
			nil,
			"no material changes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := base(), base()
			tt.mutate(b)

			diff := Diff(a, b)
			var fields []string
			for _, c := range diff.Changes {
				fields = append(fields, c.Field)
			}
			assert.Equal(t, tt.fields, fields)
			assert.Equal(t, tt.summary, diff.Summary)
			assert.NotNil(t, diff.Changes)
		})
	}
}

func TestDiff_BeforeAfterSides(t *testing.T) {
	a := &store.Observation{ID: "a", Title: "old", Type: store.TypeChange, Importance: 3}
	b := &store.Observation{ID: "b", Title: "new", Type: store.TypeChange, Importance: 3}

	diff := Diff(a, b)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, "old", diff.Changes[0].Before)
	assert.Equal(t, "new", diff.Changes[0].After)
	assert.Equal(t, "a", diff.ID)
	assert.Equal(t, "b", diff.AgainstID)
}

func TestGetRevisionDiff_Unresolvable(t *testing.T) {
	r := newResolver(row("a", "", ""))

	diff, err := GetRevisionDiff(context.Background(), r, "a", "missing")
	require.NoError(t, err)
	assert.Nil(t, diff)

	diff, err = GetRevisionDiff(context.Background(), r, "missing", "a")
	require.NoError(t, err)
	assert.Nil(t, diff)
}

func TestGetRevisionDiff_AcrossRevision(t *testing.T) {
	a := row("a", "", "b")
	b := row("b", "a", "")
	b.Narrative = "expanded"
	r := newResolver(a, b)

	diff, err := GetRevisionDiff(context.Background(), r, "a", "b")
	require.NoError(t, err)
	require.NotNil(t, diff)
	assert.Equal(t, "1 field: narrative", diff.Summary)
}
