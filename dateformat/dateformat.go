// Package dateformat synthesizes derived date-part keys from a single
// date-shaped binding value, the Go counterpart of the original Python
// DateFormatHelper/DateFormatHelpers classes. It is grounded on the same
// caching and quarter-anchoring behavior as the original implementation,
// including one deliberately preserved quirk (see Helper.FormatDateKey).
package dateformat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Quarter snaps d to the month that is monthOfQuarter (1, 2, or 3) within
// d's calendar quarter, by subtracting (d.Month() - monthOfQuarter) mod 3
// months — matching the original `quarter()` helper's relativedelta math,
// including its wrap into the previous year when monthOfQuarter > d.Month().
//
// relativedelta(months=n) clamps the result's day-of-month to the target
// month's last valid day rather than overflowing into the next month the
// way time.AddDate's normalization would (e.g. Oct 31 minus one month is
// Sep 30, not Oct 1). subtractMonthsClamped reproduces that clamping.
func Quarter(d time.Time, monthOfQuarter int) time.Time {
	if monthOfQuarter < 1 || monthOfQuarter > 3 {
		panic("dateformat: monthOfQuarter must be 1, 2 or 3")
	}
	delta := int(d.Month()) - monthOfQuarter
	delta = ((delta % 3) + 3) % 3
	return subtractMonthsClamped(d, delta)
}

// subtractMonthsClamped subtracts n months from d, clamping the day-of-month
// to the target month's last valid day instead of overflowing into the
// following month.
func subtractMonthsClamped(d time.Time, n int) time.Time {
	if n == 0 {
		return d
	}
	year, month, day := d.Date()
	totalMonths := int(month) - 1 - n
	targetYear := year + totalMonths/12
	targetMonth := totalMonths % 12
	if targetMonth < 0 {
		targetMonth += 12
		targetYear--
	}
	firstOfTarget := time.Date(targetYear, time.Month(targetMonth+1), 1, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), d.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(targetYear, time.Month(targetMonth+1), day, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), d.Location())
}

// BadDateError reports a value that does not parse under its date root's
// format.
type BadDateError struct {
	Key   string
	Value string
	Root  string
}

func (e *BadDateError) Error() string {
	return fmt.Sprintf("dateformat: bad date value %q for key %q (root %s)", e.Value, e.Key, e.Root)
}

// layout holds one derived field's Go reference-time layout.
type layout struct {
	goLayout string
}

// Helper mirrors one DateFormatHelper instance: a root suffix, the ordered
// list of derived suffixes (index 0 is the root itself), the parallel list
// of Go time layouts, and a per-instance cache keyed exactly the way the
// original does.
type Helper struct {
	root     string
	suffixes []string
	layouts  []layout
	cache    map[string]map[string]cachedValue
}

type cachedValue struct {
	value  string
	suffix string
}

// NewHelper builds a Helper. suffixes[0] must equal root's bare form (e.g.
// "yyyymmdd"); layouts[0] is the format that parses the root value.
func NewHelper(suffixes []string, layouts []string) *Helper {
	if len(suffixes) == 0 || len(suffixes) != len(layouts) {
		panic("dateformat: suffixes and layouts must be equal-length and non-empty")
	}
	ls := make([]layout, len(layouts))
	for i, l := range layouts {
		ls[i] = layout{goLayout: l}
	}
	return &Helper{
		root:     suffixes[0],
		suffixes: suffixes,
		layouts:  ls,
		cache:    map[string]map[string]cachedValue{},
	}
}

// FormatDateKey inspects key k with value v; if k is exactly the root
// suffix or ends with "_<root>", it synthesizes every derived sibling key
// into m, without overwriting any key already present in m.
//
// The cache key is deliberately built from k and v AFTER they have been
// reassigned inside the per-suffix loop below, exactly mirroring the
// original format_date_key's `self.cache[f"{k}:{v}"]` line, which runs
// after the loop variables k and v have been shadowed by the final
// iteration's derived key/value pair rather than the original inputs. This
// means the cache key bears no relation to the lookup key used to populate
// it on a cold path, and a cache hit from an earlier unrelated call can
// short-circuit a later one. It is preserved here exactly as observed in
// the original rather than "fixed", per the project's design notes; S4
// pins the externally observable outputs regardless.
func (h *Helper) FormatDateKey(k, v string, m map[string]string) error {
	if k != h.root && !strings.HasSuffix(k, "_"+h.root) {
		return nil
	}

	toset := map[string]cachedValue{}
	bucket, ok := h.cache[h.cacheBucketKey(k, v)]
	if ok {
		toset = bucket
	} else {
		parsed, err := time.Parse(h.layouts[0].goLayout, v)
		if err != nil {
			return &BadDateError{Key: k, Value: v, Root: h.root}
		}

		for i := 1; i < len(h.suffixes); i++ {
			newKey := strings.Replace(k, h.root, h.suffixes[i], 1)
			toFormat := parsed
			switch {
			case strings.Contains(h.suffixes[i], "_qm1"):
				toFormat = Quarter(toFormat, 1)
			case strings.Contains(h.suffixes[i], "_qm2"):
				toFormat = Quarter(toFormat, 2)
			case strings.Contains(h.suffixes[i], "_qm3"):
				toFormat = Quarter(toFormat, 3)
			}
			newVal := toFormat.Format(h.layouts[i].goLayout)
			toset[newKey] = cachedValue{value: newVal, suffix: h.suffixes[i]}

			// Mirror the original's loop-variable reassignment: k and v are
			// rebound to the just-computed pair before the cache write below
			// runs, so the stored cache key reflects the LAST derived
			// key/value of this call, not the call's actual input.
			k, v = newKey, newVal
		}
	}

	for key, cv := range toset {
		val := cv.value
		switch {
		case strings.HasSuffix(cv.suffix, "_MMM"):
			val = strings.ToUpper(val)
		case strings.HasSuffix(cv.suffix, "_mmm"):
			val = strings.ToLower(val)
		}
		if _, exists := m[key]; exists {
			continue
		}
		m[key] = val
	}
	h.cache[h.cacheBucketKey(k, v)] = toset
	return nil
}

func (h *Helper) cacheBucketKey(k, v string) string {
	return k + ":" + v
}

// ShowNewKeys returns the set of derived key names that would be produced
// for any key in keys matching this helper's root.
func (h *Helper) ShowNewKeys(keys []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, k := range keys {
		if k == h.root || strings.HasSuffix(k, "_"+h.root) {
			for i := 1; i < len(h.suffixes); i++ {
				out[strings.Replace(k, h.root, h.suffixes[i], 1)] = struct{}{}
			}
		}
	}
	return out
}

// Helpers bundles the three recognized date roots (yyyymmddhh, yyyymmdd,
// yyyymm), matching the module-level `helpers` instance in the original.
type Helpers struct {
	formatters []*Helper
}

// Default constructs the three recognized roots with their exact suffix and
// layout tables, ported key-for-key from date_formatter_helper.py.
func Default() *Helpers {
	return &Helpers{formatters: []*Helper{
		NewHelper(
			[]string{
				"yyyymmddhh", "yyyymmddhh_yyyy", "yyyymmddhh_mm", "yyyymmddhh_dd",
				"yyyymmddhh_hh", "yyyymmddhh_mmm", "yyyymmddhh_MMM", "yyyymmddhh_Mmm",
				"yyyymmddhh_yy",
			},
			[]string{
				"2006010215", "2006", "01", "02",
				"15", "Jan", "Jan", "Jan",
				"06",
			},
		),
		NewHelper(
			[]string{
				"yyyymmdd", "yyyymmdd_yyyy", "yyyymmdd_mm", "yyyymmdd_dd",
				"yyyymmdd_yy", "yyyymmdd_mmm", "yyyymmdd_MMM", "yyyymmdd_Mmm",
				"yyyymmdd_qm1_mm", "yyyymmdd_qm2_mm", "yyyymmdd_qm3_mm",
				"yyyymmdd_qm1_yyyy", "yyyymmdd_qm2_yyyy", "yyyymmdd_qm3_yyyy",
				"yyyymmdd_qm1_dd", "yyyymmdd_qm2_dd", "yyyymmdd_qm3_dd",
			},
			[]string{
				"20060102", "2006", "01", "02",
				"06", "Jan", "Jan", "Jan",
				"01", "01", "01",
				"2006", "2006", "2006",
				"02", "02", "02",
			},
		),
		NewHelper(
			[]string{
				"yyyymm", "yyyymm_yyyy", "yyyymm_mm", "yyyymm_mmm",
				"yyyymm_MMM", "yyyymm_Mmm", "yyyymm_yy",
				"yyyymm_qm1_mm", "yyyymm_qm2_mm", "yyyymm_qm3_mm",
				"yyyymm_qm1_yyyy", "yyyymm_qm2_yyyy", "yyyymm_qm3_yyyy",
				"yyyymm_qm1_yy", "yyyymm_qm2_yy", "yyyymm_qm3_yy",
				"yyyymm_qm1_MMM", "yyyymm_qm2_MMM", "yyyymm_qm3_MMM",
			},
			[]string{
				"200601", "2006", "01", "Jan",
				"Jan", "Jan", "06",
				"01", "01", "01",
				"2006", "2006", "2006",
				"06", "06", "06",
				"Jan", "Jan", "Jan",
			},
		),
	}}
}

// FormatDateKeys runs every recognized root's FormatDateKey against a single
// key/value pair.
func (h *Helpers) FormatDateKeys(k, v string, m map[string]string) error {
	for _, f := range h.formatters {
		if err := f.FormatDateKey(k, v, m); err != nil {
			return err
		}
	}
	return nil
}

// FormatAllDateKeys applies every formatter to every key/value pair present
// in m at call time (snapshotting the key set first, as the original does,
// so date-derived keys added mid-pass are not themselves re-expanded in the
// same call — matching the idempotence property in spec.md §8.2).
func (h *Helpers) FormatAllDateKeys(m map[string]string) error {
	type kv struct{ k, v string }
	snapshot := make([]kv, 0, len(m))
	for k, v := range m {
		snapshot = append(snapshot, kv{k, v})
	}
	for _, f := range h.formatters {
		for _, x := range snapshot {
			if err := f.FormatDateKey(x.k, x.v, m); err != nil {
				return fmt.Errorf("unable to format key/value %s/%s: %w", x.k, x.v, err)
			}
		}
	}
	return nil
}

// ShowNewKeys unions ShowNewKeys across all three roots.
func (h *Helpers) ShowNewKeys(keys []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range h.formatters {
		for k := range f.ShowNewKeys(keys) {
			out[k] = struct{}{}
		}
	}
	return out
}

// RecognizedRoot reports whether key is one of the three recognized date
// roots or ends with "_<root>", returning that root (used by the exploder
// to decide whether an integer value should be
// interpreted as a date offset).
func RecognizedRoot(key string) (root string, ok bool) {
	for _, r := range []string{"yyyymmddhh", "yyyymmdd", "yyyymm"} {
		if key == r || strings.HasSuffix(key, "_"+r) {
			return r, true
		}
	}
	return "", false
}

// ParseOffset parses a string that may be a base-10 integer offset,
// returning ok=false if it is not.
func ParseOffset(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}
