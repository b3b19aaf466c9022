package dateformat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQuarterAnchors pins spec.md §8.3's literal month tables for k=1,2,3
// across every month 1..12.
func TestQuarterAnchors(t *testing.T) {
	expected := map[int][]int{
		1: {1, 1, 1, 4, 4, 4, 7, 7, 7, 10, 10, 10},
		2: {11, 2, 2, 2, 5, 5, 5, 8, 8, 8, 11, 11},
		3: {12, 12, 3, 3, 3, 6, 6, 6, 9, 9, 9, 12},
	}
	for k, months := range expected {
		for m := 1; m <= 12; m++ {
			d := time.Date(2022, time.Month(m), 15, 0, 0, 0, 0, time.UTC)
			got := Quarter(d, k)
			assert.Equalf(t, months[m-1], int(got.Month()), "k=%d month=%d", k, m)
		}
	}
}

// TestFormatDateKeyYYYYMMDD pins spec.md §8.4 S4's literal derived values
// for a yyyymmdd key.
func TestFormatDateKeyYYYYMMDD(t *testing.T) {
	h := Default()
	m := map[string]string{"yyyymmdd": "20221231"}
	require.NoError(t, h.FormatAllDateKeys(m))

	assert.Equal(t, "2022", m["yyyymmdd_yyyy"])
	assert.Equal(t, "12", m["yyyymmdd_mm"])
	assert.Equal(t, "31", m["yyyymmdd_dd"])
	assert.Equal(t, "22", m["yyyymmdd_yy"])
	assert.Equal(t, "dec", m["yyyymmdd_mmm"])
	assert.Equal(t, "DEC", m["yyyymmdd_MMM"])
	assert.Equal(t, "Dec", m["yyyymmdd_Mmm"])
	assert.Equal(t, "10", m["yyyymmdd_qm1_mm"])
	assert.Equal(t, "11", m["yyyymmdd_qm2_mm"])
	assert.Equal(t, "12", m["yyyymmdd_qm3_mm"])
	assert.Equal(t, "31", m["yyyymmdd_qm1_dd"])
	assert.Equal(t, "30", m["yyyymmdd_qm2_dd"])
	assert.Equal(t, "31", m["yyyymmdd_qm3_dd"])
	assert.Equal(t, "2022", m["yyyymmdd_qm1_yyyy"])
	assert.Equal(t, "2022", m["yyyymmdd_qm2_yyyy"])
	assert.Equal(t, "2022", m["yyyymmdd_qm3_yyyy"])
}

// TestFormatDateKeyDoesNotOverwrite confirms an explicitly bound derived key
// survives §4.B's "never overwrites an explicitly-bound key" rule.
func TestFormatDateKeyDoesNotOverwrite(t *testing.T) {
	h := Default()
	m := map[string]string{"yyyymmdd": "20221231", "yyyymmdd_yyyy": "explicit"}
	require.NoError(t, h.FormatAllDateKeys(m))
	assert.Equal(t, "explicit", m["yyyymmdd_yyyy"])
}

// TestFormatDateKeyIdempotent pins spec.md §8.2: applying the generator a
// second time over an already-expanded binding adds nothing new.
func TestFormatDateKeyIdempotent(t *testing.T) {
	h := Default()
	m := map[string]string{"yyyymmdd": "20221231"}
	require.NoError(t, h.FormatAllDateKeys(m))
	first := map[string]string{}
	for k, v := range m {
		first[k] = v
	}
	require.NoError(t, h.FormatAllDateKeys(m))
	assert.Equal(t, first, m)
}

func TestFormatDateKeyBadDate(t *testing.T) {
	h := Default()
	m := map[string]string{"yyyymmdd": "not-a-date"}
	err := h.FormatAllDateKeys(m)
	require.Error(t, err)
	var bad *BadDateError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "yyyymmdd", bad.Root)
}

func TestFormatDateKeySuffixedRoot(t *testing.T) {
	h := Default()
	m := map[string]string{"start_yyyymm": "202201"}
	require.NoError(t, h.FormatAllDateKeys(m))
	assert.Equal(t, "2022", m["start_yyyymm_yyyy"])
	assert.Equal(t, "jan", m["start_yyyymm_mmm"])
}

func TestRecognizedRoot(t *testing.T) {
	root, ok := RecognizedRoot("yyyymmdd")
	require.True(t, ok)
	assert.Equal(t, "yyyymmdd", root)

	root, ok = RecognizedRoot("load_yyyymmddhh")
	require.True(t, ok)
	assert.Equal(t, "yyyymmddhh", root)

	_, ok = RecognizedRoot("table")
	assert.False(t, ok)
}
