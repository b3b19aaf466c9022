package explode

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataforge/bqm2-engine/dateformat"
)

func defaults() Defaults {
	return Defaults{Project: "proj", Dataset: "ds", Filename: "f", Folder: "dir"}
}

// TestExplodeArrayOfScalars pins spec.md §8.4 S3's literal Cartesian
// product example.
func TestExplodeArrayOfScalars(t *testing.T) {
	raw := Raw{
		"table":              "{filename}_{keywords_table}",
		"keywords_table":     []interface{}{"url_kw", "url_kw_title"},
		"overlap_threshold":  "0.2",
	}
	out, err := Explode(raw, defaults(), dateformat.Default())
	require.NoError(t, err)
	require.Len(t, out, 2)

	var got []string
	for _, b := range out {
		got = append(got, b["keywords_table"])
		assert.Equal(t, "0.2", b["overlap_threshold"])
	}
	sort.Strings(got)
	assert.Equal(t, []string{"url_kw", "url_kw_title"}, got)
}

// TestExplodeCountsScalarsAsOne pins spec.md §8.4 invariant 4: the product
// size is the product of array-valued slot lengths, with scalars counting
// as 1.
func TestExplodeCountsScalarsAsOne(t *testing.T) {
	raw := Raw{
		"a": "scalar",
		"b": []interface{}{"x", "y", "z"},
		"c": []interface{}{"p", "q"},
	}
	out, err := Explode(raw, defaults(), dateformat.Default())
	require.NoError(t, err)
	assert.Len(t, out, 6)
}

func TestExplodeArrayOfObjects(t *testing.T) {
	raw := Raw{
		"base": "x",
		"items": []interface{}{
			map[string]interface{}{"name": "a", "value": "1"},
			map[string]interface{}{"name": "b", "value": "2"},
		},
	}
	out, err := Explode(raw, defaults(), dateformat.Default())
	require.NoError(t, err)
	require.Len(t, out, 2)

	byName := map[string]map[string]string{}
	for _, b := range out {
		byName[b["name"]] = b
	}
	assert.Equal(t, "1", byName["a"]["value"])
	assert.Equal(t, "2", byName["b"]["value"])
	assert.Equal(t, "x", byName["a"]["base"])
}

func TestExplodeAppliesDefaultsWithoutOverwrite(t *testing.T) {
	raw := Raw{"dataset": "explicit_ds"}
	out, err := Explode(raw, defaults(), dateformat.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "explicit_ds", out[0]["dataset"])
	assert.Equal(t, "proj", out[0]["project"])
	assert.Equal(t, "f", out[0]["filename"])
	assert.Equal(t, "f", out[0]["table"])
	assert.Equal(t, "dir", out[0]["folder"])
}

func TestHandleDateFieldOffsets(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	got, err := HandleDateField(today, -1, "yyyymmdd")
	require.NoError(t, err)
	assert.Equal(t, "20260730", got)

	got, err = HandleDateField(today, 1, "yyyymm")
	require.NoError(t, err)
	assert.Equal(t, "202608", got)

	got, err = HandleDateField(today, 5, "yyyymmddhh")
	require.NoError(t, err)
	assert.Equal(t, "2026073105", got)
}

func TestExplodeDateOffsetRange(t *testing.T) {
	SetEffectiveDate(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	defer SetEffectiveDate(time.Time{})

	raw := Raw{"yyyymmdd": []interface{}{float64(-1), float64(1)}}
	out, err := Explode(raw, defaults(), dateformat.Default())
	require.NoError(t, err)

	var got []string
	for _, b := range out {
		got = append(got, b["yyyymmdd"])
	}
	sort.Strings(got)
	assert.Equal(t, []string{"20260730", "20260731", "20260801"}, got)
}

func TestExplodeDateOffsetScalar(t *testing.T) {
	SetEffectiveDate(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	defer SetEffectiveDate(time.Time{})

	raw := Raw{"yyyymmdd": float64(-2)}
	out, err := Explode(raw, defaults(), dateformat.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "20260729", out[0]["yyyymmdd"])
}
