package checklist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckdt/internal/checklist"
	"ckdt/internal/domain"
)

func TestStateRoundTrip(t *testing.T) {
	catalog := service(
		section("s1", item("a", false, false), item("b", false, false)),
		alternative("s2", item("c", false, false)),
	)
	st := checklist.State{"b": {}, "c": {}, "gone": {}}
	view := st.Apply(catalog)

	assert.False(t, view.Sections[0].Items[0].IsCompleted)
	assert.True(t, view.Sections[0].Items[1].IsCompleted)
	assert.True(t, view.Sections[1].Items[0].IsCompleted)
	assert.False(t, catalog.Sections[0].Items[1].IsCompleted, "catalog value must not carry session flags")

	assert.Equal(t, []string{"b", "c"}, checklist.StateOf(view).IDs())
}

func TestApplyClearsStaleFlags(t *testing.T) {
	svc := service(section("s1", item("a", false, true)))
	view := checklist.State{}.Apply(svc)
	assert.False(t, view.Sections[0].Items[0].IsCompleted)
}

func TestNormalizeLegacyGroupsSplitsSections(t *testing.T) {
	rg := item("rg", false, false)
	rg.AlternativeOf = "ident"
	cnh := item("cnh", false, true)
	cnh.AlternativeOf = "ident"
	svc := service(
		section("docs", item("atpv", false, false), rg, cnh, item("cpf", false, false)),
		section("other", item("x", false, false)),
	)

	norm := checklist.NormalizeLegacyGroups(svc)
	require.Len(t, norm.Sections, 3)
	assert.Equal(t, "docs", norm.Sections[0].ID)
	assert.Len(t, norm.Sections[0].Items, 2)
	assert.False(t, norm.Sections[0].IsAlternative)

	group := norm.Sections[1]
	assert.True(t, group.IsAlternative)
	assert.Equal(t, "section docs: doc rg", group.Title)
	require.Len(t, group.Items, 2)
	assert.Empty(t, group.Items[0].AlternativeOf)
	assert.True(t, checklist.IsSectionComplete(group), "checked member satisfies the migrated group")

	assert.Equal(t, "other", norm.Sections[2].ID)
	for i, s := range norm.Sections {
		assert.Equal(t, i, s.Position)
	}
	assert.False(t, checklist.HasLegacyGroups(norm))
	assert.True(t, checklist.HasLegacyGroups(svc), "input must stay untouched")
}

func TestNormalizeSingleGroupSectionBecomesAlternative(t *testing.T) {
	a := item("a", false, false)
	a.AlternativeOf = "g"
	b := item("b", false, false)
	b.AlternativeOf = "g"
	norm := checklist.NormalizeLegacyGroups(service(section("only", a, b)))
	require.Len(t, norm.Sections, 1)
	assert.Equal(t, "only", norm.Sections[0].ID)
	assert.True(t, norm.Sections[0].IsAlternative)
}

func TestNormalizeIsStable(t *testing.T) {
	a := item("a", false, false)
	a.AlternativeOf = "g"
	svc := service(section("s", item("x", false, false), a))
	once := checklist.NormalizeLegacyGroups(svc)
	assert.Equal(t, once, checklist.NormalizeLegacyGroups(once))
	assert.Equal(t, once.Sections[1].ID, checklist.NormalizeLegacyGroups(svc).Sections[1].ID)
}

func TestGroupHelpers(t *testing.T) {
	a := item("a", false, false)
	a.AlternativeOf = "g"
	b := item("b", false, true)
	b.AlternativeOf = "g"
	gid, ok := checklist.AlternativeGroupOf(a)
	assert.True(t, ok)
	assert.Equal(t, "g", gid)
	_, ok = checklist.AlternativeGroupOf(item("c", false, false))
	assert.False(t, ok)

	assert.True(t, checklist.IsGroupSatisfied([]domain.Item{a, b}, "g"))
	assert.False(t, checklist.IsGroupSatisfied([]domain.Item{a}, "g"))
}
