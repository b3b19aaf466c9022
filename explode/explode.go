// Package explode turns a raw descriptor binding — whose values may be
// scalars, arrays of scalars, or arrays of sub-objects — into the ordered
// Cartesian product of fully scalar bindings, per spec.md §4.C. It is
// grounded on the teacher's workflow/expander.go pattern of multiplying a
// single action template into many concrete instances by merging bound
// fields, generalized here from "one loop variable" to arbitrary array-of-
// scalar and array-of-object slots plus integer date-offset expansion.
package explode

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dataforge/bqm2-engine/dateformat"
)

// Raw is the as-loaded descriptor shape: a key maps to a scalar, an array of
// scalars, or an array of sub-binding maps (themselves Raw).
type Raw map[string]interface{}

// Defaults carries the process-wide values injected into every binding
// unless the descriptor already sets them, per spec.md §4.C rule 6.
type Defaults struct {
	Project       string
	Dataset       string
	EffectiveDate time.Time
	Filename      string
	Folder        string
}

// Explode produces the ordered sequence of resolved-scalar Bindings
// representing raw's Cartesian product, with date-field derivation applied
// to each binding before it is returned (rule 5). The caller is expected to
// run template.Resolve on each returned binding afterward (§4.A placeholder
// substitution happens strictly after explosion + date derivation).
func Explode(raw Raw, defaults Defaults, dateHelpers *dateformat.Helpers) ([]map[string]string, error) {
	bindings, err := explodeRaw(raw)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]string, 0, len(bindings))
	for _, b := range bindings {
		enriched := applyDefaults(b, defaults)
		if err := dateHelpers.FormatAllDateKeys(enriched); err != nil {
			return nil, err
		}
		out = append(out, enriched)
	}
	return out, nil
}

// applyDefaults injects filename/folder/table/project/dataset without
// overwriting any key the descriptor already set, per rule 6.
func applyDefaults(b map[string]string, d Defaults) map[string]string {
	out := make(map[string]string, len(b)+5)
	for k, v := range b {
		out[k] = v
	}
	setIfAbsent(out, "filename", d.Filename)
	setIfAbsent(out, "folder", d.Folder)
	setIfAbsent(out, "table", d.Filename)
	setIfAbsent(out, "project", d.Project)
	setIfAbsent(out, "dataset", d.Dataset)
	return out
}

func setIfAbsent(m map[string]string, key, val string) {
	if val == "" {
		return
	}
	if _, ok := m[key]; ok {
		return
	}
	m[key] = val
}

// explodeRaw is the recursive Cartesian-product engine (rules 1-4). Integer
// offsets on a recognized date-root key are resolved against the frozen
// effective date by expandDateOffsetScalar and expandDateOffsetRange, called
// from explodeValue before the product is taken, so that each offset value
// produces its own branch just like any other array-of-scalars slot.
func explodeRaw(raw Raw) ([]map[string]string, error) {
	bindings := []map[string]string{{}}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := raw[key]
		branches, err := explodeValue(key, val)
		if err != nil {
			return nil, err
		}
		bindings = crossJoin(bindings, key, branches)
	}
	return bindings, nil
}

// branch is one possible resolved value for a key, either a plain scalar
// assignment or a set of merged fields (from an array-of-objects element).
type branch struct {
	scalar string
	isObj  bool
	fields map[string]string
}

func explodeValue(key string, val interface{}) ([]branch, error) {
	switch v := val.(type) {
	case string:
		if branches, handled, err := expandDateOffsetScalar(key, v); handled {
			return branches, err
		}
		return []branch{{scalar: v}}, nil

	case float64:
		s := formatNumber(v)
		if branches, handled, err := expandDateOffsetScalar(key, s); handled {
			return branches, err
		}
		return []branch{{scalar: s}}, nil

	case bool:
		return []branch{{scalar: strconv.FormatBool(v)}}, nil

	case []interface{}:
		if len(v) == 0 {
			// Rule: empty table/array values are preserved, not dropped.
			return []branch{{scalar: ""}}, nil
		}
		// Integer-array date-offset range expansion (rule 4).
		if root, ok := dateformat.RecognizedRoot(key); ok {
			if offsets, isIntArray := asIntSlice(v); isIntArray {
				return expandDateOffsetRange(root, offsets)
			}
		}
		var branches []branch
		for _, elem := range v {
			switch e := elem.(type) {
			case map[string]interface{}:
				sub, err := explodeRaw(Raw(e))
				if err != nil {
					return nil, err
				}
				for _, s := range sub {
					branches = append(branches, branch{isObj: true, fields: s})
				}
			default:
				inner, err := explodeValue(key, e)
				if err != nil {
					return nil, err
				}
				branches = append(branches, inner...)
			}
		}
		return branches, nil

	case map[string]interface{}:
		sub, err := explodeRaw(Raw(v))
		if err != nil {
			return nil, err
		}
		var branches []branch
		for _, s := range sub {
			branches = append(branches, branch{isObj: true, fields: s})
		}
		return branches, nil

	case nil:
		return []branch{{scalar: ""}}, nil

	default:
		data, _ := json.Marshal(v)
		return []branch{{scalar: string(data)}}, nil
	}
}

// expandDateOffsetScalar checks whether key is a recognized date root and v
// parses as a bare integer offset; if so it returns the single resulting
// branch (handled=true). Otherwise handled=false and the caller treats v as
// an ordinary scalar string (e.g. an already-formatted date string — one
// that parses in the root's own layout is never read as an offset — which
// is the normal non-offset case for a date-root key).
func expandDateOffsetScalar(key, v string) ([]branch, bool, error) {
	root, ok := dateformat.RecognizedRoot(key)
	if !ok {
		return nil, false, nil
	}
	if _, err := time.Parse(dateLayouts[root], v); err == nil {
		return nil, false, nil
	}
	n, isInt := dateformat.ParseOffset(v)
	if !isInt {
		return nil, false, nil
	}
	branches, err := expandDateOffsetRange(root, []int{n})
	return branches, true, err
}

// expandDateOffsetRange resolves handleDateField over the inclusive range
// [min(offsets), max(offsets)], one branch per integer offset in the range,
// per spec.md §4.C rule 4.
func expandDateOffsetRange(root string, offsets []int) ([]branch, error) {
	lo, hi := offsets[0], offsets[0]
	for _, o := range offsets {
		if o < lo {
			lo = o
		}
		if o > hi {
			hi = o
		}
	}
	var branches []branch
	for o := lo; o <= hi; o++ {
		s, err := HandleDateField(currentEffectiveDate, o, root)
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch{scalar: s})
	}
	return branches, nil
}

// currentEffectiveDate is set once per process by SetEffectiveDate and never
// re-read from the system clock afterward, per spec.md §9 "Frozen now".
var currentEffectiveDate time.Time

// SetEffectiveDate freezes the anchor used by every subsequent call to
// HandleDateField / Explode. Callers (the CLI) must invoke this exactly
// once at startup before loading any descriptor.
func SetEffectiveDate(t time.Time) {
	currentEffectiveDate = t
}

// EffectiveDate returns the frozen anchor set by SetEffectiveDate.
func EffectiveDate() time.Time {
	return currentEffectiveDate
}

// dateLayouts maps a recognized root to its Go reference-time layout.
var dateLayouts = map[string]string{
	"yyyymmddhh": "2006010215",
	"yyyymmdd":   "20060102",
	"yyyymm":     "200601",
}

// HandleDateField computes today offset by n units of root's granularity
// (hours for yyyymmddhh, days for yyyymmdd, months for yyyymm), formatted
// back into root's string layout. Negative n means "in the past".
func HandleDateField(today time.Time, n int, root string) (string, error) {
	layout, ok := dateLayouts[root]
	if !ok {
		return "", fmt.Errorf("explode: unrecognized date root %q", root)
	}
	var shifted time.Time
	switch root {
	case "yyyymmddhh":
		shifted = today.Add(time.Duration(n) * time.Hour)
	case "yyyymmdd":
		shifted = today.AddDate(0, 0, n)
	case "yyyymm":
		shifted = today.AddDate(0, n, 0)
	default:
		return "", fmt.Errorf("explode: unrecognized date root %q", root)
	}
	return shifted.Format(layout), nil
}

// crossJoin multiplies an existing set of partial bindings by a new key's
// set of branches, merging array-of-object branches' fields wholesale and
// assigning scalar branches directly to key.
func crossJoin(existing []map[string]string, key string, branches []branch) []map[string]string {
	out := make([]map[string]string, 0, len(existing)*len(branches))
	for _, base := range existing {
		for _, b := range branches {
			merged := make(map[string]string, len(base)+len(b.fields)+1)
			for k, v := range base {
				merged[k] = v
			}
			if b.isObj {
				for k, v := range b.fields {
					merged[k] = v
				}
			} else {
				merged[key] = b.scalar
			}
			out = append(out, merged)
		}
	}
	return out
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func asIntSlice(v []interface{}) ([]int, bool) {
	out := make([]int, 0, len(v))
	for _, elem := range v {
		switch e := elem.(type) {
		case float64:
			if e != float64(int64(e)) {
				return nil, false
			}
			out = append(out, int(e))
		case string:
			n, ok := dateformat.ParseOffset(e)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		default:
			return nil, false
		}
	}
	return out, true
}

// filenameAndFolder splits a descriptor's on-disk path into the metadata
// pair injected by applyDefaults (rule 6): filename is the basename without
// its recognized suffix, folder is the containing directory.
func filenameAndFolder(path, suffix string) (filename, folder string) {
	folder = filepath.Dir(path)
	base := filepath.Base(path)
	filename = strings.TrimSuffix(base, suffix)
	return filename, folder
}
