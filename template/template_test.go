package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSimpleReference(t *testing.T) {
	out, err := Resolve(map[string]string{
		"filename": "myfile",
		"table":    "{filename}_suffix",
	})
	require.NoError(t, err)
	assert.Equal(t, "myfile_suffix", out["table"])
}

func TestResolveTransitiveReference(t *testing.T) {
	out, err := Resolve(map[string]string{
		"a": "{b}",
		"b": "{c}",
		"c": "leaf",
	})
	require.NoError(t, err)
	assert.Equal(t, "leaf", out["a"])
	assert.Equal(t, "leaf", out["b"])
}

func TestResolveEscapedBraces(t *testing.T) {
	out, err := Resolve(map[string]string{
		"q": "SELECT {{col}} FROM t",
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT {col} FROM t", out["q"])
}

func TestResolveDash2Uscore(t *testing.T) {
	out, err := Resolve(map[string]string{
		"name":                 "foo-bar",
		"name_dash2uscore":     "{name}",
	})
	require.NoError(t, err)
	assert.Equal(t, "foo_bar", out["name_dash2uscore"])
	assert.Equal(t, "foo-bar", out["name"])
}

func TestResolveUnmapped(t *testing.T) {
	_, err := Resolve(map[string]string{"a": "{missing}"})
	require.Error(t, err)
	var unmapped *UnmappedError
	require.ErrorAs(t, err, &unmapped)
	assert.Equal(t, "missing", unmapped.Key)
}

func TestResolveCircular(t *testing.T) {
	_, err := Resolve(map[string]string{
		"a": "{b}",
		"b": "{a}",
	})
	require.Error(t, err)
	var circ *CircularError
	require.ErrorAs(t, err, &circ)
}

func TestResolveSelfReferenceIsCircular(t *testing.T) {
	_, err := Resolve(map[string]string{"a": "{a}"})
	require.Error(t, err)
	var circ *CircularError
	require.ErrorAs(t, err, &circ)
}

func TestHasReferenceAndExtractReferences(t *testing.T) {
	assert.True(t, HasReference("{x}"))
	assert.False(t, HasReference("plain"))
	assert.Equal(t, []string{"a", "b"}, ExtractReferences("{b} and {a} and {a}"))
}
