// Package template resolves `{name}` placeholders in a binding map against
// itself, the way a template engine resolves variable references against a
// context. It is the Go-native sibling of the regex-driven `${...}` resolver
// in the teacher's semantic/runtime/variables.go, generalized from a single
// flat substitution pass to a fixed-point recursive resolver over an
// arbitrarily-nested reference graph.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderPattern matches a `{name}` reference, mirroring the `${...}`
// pattern from variables.go but with bqm2's single-brace syntax. Escaped
// braces `{{`/`}}` are handled separately by Resolve, not by this pattern.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

const dash2UscoreSuffix = "_dash2uscore"

// escapeOpenSentinel/escapeCloseSentinel stand in for escaped `{{`/`}}`
// pairs while placeholders are being resolved, so that an escaped brace can
// never be mistaken for (or mask the boundary of) a real `{name}` reference
// — e.g. the `{col}` inside `{{col}}` must never match placeholderPattern.
const (
	escapeOpenSentinel  = "\x02"
	escapeCloseSentinel = "\x03"
)

// maskEscapes replaces every escaped brace pair with a sentinel byte that
// cannot appear in placeholderPattern's character class, before any
// resolution or classification runs.
func maskEscapes(s string) string {
	s = strings.ReplaceAll(s, "{{", escapeOpenSentinel)
	s = strings.ReplaceAll(s, "}}", escapeCloseSentinel)
	return s
}

// unmaskEscapes restores sentinel bytes produced by maskEscapes back into
// literal braces, once resolution and classification are both complete.
func unmaskEscapes(s string) string {
	s = strings.ReplaceAll(s, escapeOpenSentinel, "{")
	s = strings.ReplaceAll(s, escapeCloseSentinel, "}")
	return s
}

// UnmappedError reports a placeholder with no matching binding key.
type UnmappedError struct {
	Key   string
	Value string
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("unmapped template reference %q in value %q", e.Key, e.Value)
}

// CircularError reports a reference cycle discovered during resolution.
type CircularError struct {
	Cycle []string
}

func (e *CircularError) Error() string {
	return fmt.Sprintf("circular template reference: %s", strings.Join(e.Cycle, " -> "))
}

// Resolve takes a raw binding (string-keyed map of scalar values, as produced
// by the exploder) and returns a Resolved Binding in which every `{name}`
// placeholder has been substituted by the value of the referenced key, and
// every escaped `{{`/`}}` pair has collapsed to a literal brace.
//
// The algorithm is a fixed-point loop: each pass substitutes any reference
// whose target is already fully scalar (contains no further placeholders),
// and repeats until a pass makes no progress. Remaining placeholders after
// that point are classified as circular (their key participates in a
// dependency loop) or unmapped (their key does not exist at all).
func Resolve(binding map[string]string) (map[string]string, error) {
	working := make(map[string]string, len(binding))
	for k, v := range binding {
		working[k] = maskEscapes(v)
	}

	for {
		progressed := false
		for key, val := range working {
			refs := placeholderPattern.FindAllStringSubmatchIndex(val, -1)
			if len(refs) == 0 {
				continue
			}
			newVal, changed, err := substituteOnePass(val, working)
			if err != nil {
				return nil, err
			}
			if changed {
				working[key] = newVal
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	// Anything left with an unresolved `{name}` is either circular or unmapped.
	for key, val := range working {
		if m := placeholderPattern.FindStringSubmatch(val); m != nil {
			ref := m[1]
			if _, exists := working[ref]; exists {
				cycle := findCycle(working, key)
				return nil, &CircularError{Cycle: cycle}
			}
			return nil, &UnmappedError{Key: ref, Value: val}
		}
	}

	collapseEscapes(working)
	applyDashToUnderscore(working)
	return working, nil
}

// substituteOnePass replaces every placeholder in val whose target value is
// itself free of unresolved placeholders. It returns the new string and
// whether any substitution actually happened.
func substituteOnePass(val string, working map[string]string) (string, bool, error) {
	changed := false
	out := placeholderPattern.ReplaceAllStringFunc(val, func(match string) string {
		ref := placeholderPattern.FindStringSubmatch(match)[1]
		target, ok := working[ref]
		if !ok {
			// Leave unmapped references untouched; final classification pass
			// above reports them.
			return match
		}
		if placeholderPattern.MatchString(target) {
			// Target itself still has unresolved references; defer.
			return match
		}
		changed = true
		return target
	})
	return out, changed, nil
}

// findCycle walks reference edges starting at start until it revisits a node,
// producing a human-readable cycle trace for CircularError.
func findCycle(working map[string]string, start string) []string {
	visited := map[string]bool{}
	order := []string{start}
	cur := start
	for {
		val, ok := working[cur]
		if !ok {
			break
		}
		m := placeholderPattern.FindStringSubmatch(val)
		if m == nil {
			break
		}
		next := m[1]
		if visited[next] {
			order = append(order, next)
			break
		}
		visited[cur] = true
		order = append(order, next)
		cur = next
		if len(order) > len(working)+1 {
			// Defensive bound: a true cycle must repeat within N+1 hops.
			break
		}
	}
	return order
}

// collapseEscapes restores the sentinel bytes maskEscapes introduced back
// into literal braces, now that every real placeholder has been resolved or
// classified.
func collapseEscapes(working map[string]string) {
	for k, v := range working {
		working[k] = unmaskEscapes(v)
	}
}

// applyDashToUnderscore implements the `_dash2uscore` key-suffix transform:
// a key ending in that suffix has its resolved value's dashes replaced with
// underscores, and the transform marker plays no further role afterward.
func applyDashToUnderscore(working map[string]string) {
	for k, v := range working {
		if strings.HasSuffix(k, dash2UscoreSuffix) {
			working[k] = strings.ReplaceAll(v, "-", "_")
		}
	}
}

// HasReference reports whether val contains any `{name}` placeholder.
func HasReference(val string) bool {
	return placeholderPattern.MatchString(val)
}

// ExtractReferences returns, sorted and without duplicates, the set of keys
// referenced by a template string.
func ExtractReferences(val string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(val, -1)
	seen := map[string]bool{}
	var refs []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}
	sort.Strings(refs)
	return refs
}
