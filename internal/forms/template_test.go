package forms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVersion() *Version {
	return &Version{
		ID:         "v-3",
		TemplateID: "t-42",
		Number:     3,
		Status:     StatusPublished,
		Entities: []Entity{
			{ID: "e-2", SortOrder: 2, Rows: []Row{{ID: "r-3", FieldType: FieldText}}},
			{ID: "e-1", SortOrder: 1, Required: true, Rows: []Row{
				{ID: "r-1", FieldType: FieldPassFail},
				{ID: "r-2", FieldType: FieldNumber},
			}},
		},
	}
}

func TestVersion_Row(t *testing.T) {
	v := sampleVersion()

	r, ok := v.Row("r-2")
	require.True(t, ok)
	assert.Equal(t, FieldNumber, r.FieldType)

	_, ok = v.Row("r-9")
	assert.False(t, ok)
}

func TestVersion_RowsInSortOrder(t *testing.T) {
	var ids []string
	for _, r := range sampleVersion().Rows() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r-1", "r-2", "r-3"}, ids)
}

func TestVersion_IsRequired(t *testing.T) {
	v := sampleVersion()
	assert.True(t, v.IsRequired("r-1"))
	assert.False(t, v.IsRequired("r-3"))
	assert.False(t, v.IsRequired("missing"))
}

func TestTemplate_LatestPublished(t *testing.T) {
	tpl := Template{ID: "t-42", Versions: []Version{
		{ID: "v-1", Number: 1, Status: StatusPublished},
		{ID: "v-3", Number: 3, Status: StatusDraft},
		{ID: "v-2", Number: 2, Status: StatusPublished},
	}}

	v, ok := tpl.LatestPublished()
	require.True(t, ok)
	assert.Equal(t, "v-2", v.ID)

	_, ok = (&Template{}).LatestPublished()
	assert.False(t, ok)
}

func TestRow_Label(t *testing.T) {
	assert.Equal(t, "Burner: Gas pressure", Row{Component: "Burner", Activity: "Gas pressure"}.Label())
	assert.Equal(t, "Gas pressure", Row{Activity: "Gas pressure"}.Label())
}
