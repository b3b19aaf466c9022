// Package resource implements the closed tagged-variant Resource model of
// spec.md §3/§4.E: every warehouse artifact the engine can build — view,
// table, union-view, union-table, data-load, external-table, bash-backed,
// or dataset — satisfies one uniform contract. The variant tag mirrors the
// teacher's WorkflowType/WorkflowAction closed-enum pattern in
// semantic/workflow.go, generalized from "kind of scheduled action" to
// "kind of warehouse artifact."
package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dataforge/bqm2-engine/warehouse"
)

// Kind is the closed set of resource variants.
type Kind string

const (
	KindView          Kind = "view"
	KindTable         Kind = "table"
	KindUnionView     Kind = "union-view"
	KindUnionTable    Kind = "union-table"
	KindDataLoad      Kind = "data-load"
	KindExternalTable Kind = "external-table"
	KindBash          Kind = "bash"
	KindDataset       Kind = "dataset"
)

// Address identifies a warehouse artifact; Project is advisory, the
// dependency-graph key is always Dataset:Name.
type Address struct {
	Project string
	Dataset string
	Name    string
}

// Key is the canonical dependency-graph key, per spec.md §3.
func (a Address) Key() string {
	return a.Dataset + ":" + a.Name
}

// Metadata is the cached warehouse-side state captured once fetched; it is
// the only mutable part of a Resource after construction, per spec.md §9
// "Graph as arena + indices".
type Metadata struct {
	Exists           bool
	Description      string // embeds the stored fingerprint
	LastModifiedTime *time.Time
	RunningJobID     string
}

// Resource is the uniform contract every variant satisfies, per spec.md
// §4.E. Implementations live in this package's kinds.go; each non-dataset
// kind wraps a common base that
// supplies exists/isRunning/updateTime/shouldUpdate/fingerprinting so the
// kind-specific code only has to supply its body and create() mechanics.
type Resource interface {
	Key() string
	Kind() Kind
	Address() Address
	Exists(ctx context.Context) (bool, error)
	IsRunning(ctx context.Context) (bool, error)
	ShouldUpdate(ctx context.Context) (bool, error)
	UpdateTime(ctx context.Context) (*time.Time, error)
	Create(ctx context.Context) error
	DependsOn(other Resource) bool
	Dump() string
	Fingerprint() string
}

// identifierRune matches any rune that can appear within a single warehouse
// identifier token (letters, digits, underscore). A strict substring match
// counts so long as it is bounded by something other than one of these on
// *either* side; the end of the haystack counts as a right boundary, but
// the start of the haystack does not count as a left boundary.
//
// Deliberately excludes '.': a dot separates qualified-identifier parts
// (dataset.table, project.dataset.table) rather than extending a single
// token, so a dataset name immediately followed by '.' — the ordinary
// `dataset.table` SQL form — must count as a boundary, not a continuation
// into a longer identifier.
var identifierRune = regexp.MustCompile(`^[A-Za-z0-9_]$`)

// StrictSubstring reports whether needle occurs in haystack bounded by a
// non-identifier character on its left side, by a non-identifier character
// or the end of the string on its right side, or both. A match at the very
// start of haystack is therefore only accepted when it is right-bounded:
// StrictSubstring("A","A") = false, StrictSubstring("A","AA") = true (the
// second "A" ends the string), StrictSubstring("foo","foobar") = false,
// StrictSubstring("A"," Asxx ") = true (bounded on the left by the space,
// even though "sxx" continues the token on the right).
//
// strictSubstring("A","A") = false because the needle equals the whole
// haystack: there is no occurrence of needle as a *substring* of a longer
// string, which the original treats as a non-match (a self-reference would
// never make sense as a dependency edge).
//
// The left-boundary leg of this check is a deliberately preserved quirk:
// it produces a known false-positive dependency edge for inputs like
// "FROM build_production_20230201.business_emails_fill_rates_delta" against
// the needle "build_production_20230201.business_emails_fill_rates" — the
// match is only left-bounded (by "FROM "), not right-bounded (it continues
// into "_delta"), yet still counts. The original pins this exact case in
// its "real example of dependency discovery mismatch" test; it is preserved
// here rather than tightened, since a tightened rule would diverge from the
// original's observable dependency graph.
func StrictSubstring(needle, haystack string) bool {
	if needle == "" || needle == haystack {
		return false
	}
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], needle)
		if pos < 0 {
			return false
		}
		pos += idx
		end := pos + len(needle)

		rightOk := end >= len(haystack) || !identifierRune.MatchString(string(haystack[end]))
		leftOk := pos > 0 && !identifierRune.MatchString(string(haystack[pos-1]))
		if rightOk || leftOk {
			return true
		}
		idx = pos + 1
	}
}

// QualifiedIdentifiers returns every textual form another resource's address
// can be referred to by in rendered SQL: the canonical `dataset.table` form
// plus the two legacy back-ticked forms named in spec.md §4.E.
func QualifiedIdentifiers(a Address) []string {
	return []string{
		a.Dataset + "." + a.Name,
		"`" + a.Project + ":" + a.Dataset + "." + a.Name + "`",
		"`" + a.Project + ":" + a.Dataset + ":" + a.Name + "`",
	}
}

// Fingerprint computes the stable hash of a rendered definition that gets
// written into the warehouse object's description field on create, per
// spec.md §4.E "Fingerprinting".
func Fingerprint(renderedBody string) string {
	sum := sha256.Sum256([]byte(renderedBody))
	return hex.EncodeToString(sum[:])
}

// base provides the shared machinery (exists/isRunning/updateTime/
// shouldUpdate/fingerprint comparison) that every non-dataset kind embeds,
// parameterized only by a warehouse.Client and its own Address/body.
type base struct {
	addr     Address
	body     string
	client   warehouse.Client
	meta     Metadata
	metaLoad bool
}

func newBase(addr Address, body string, client warehouse.Client) base {
	return base{addr: addr, body: body, client: client}
}

func (b *base) Key() string      { return b.addr.Key() }
func (b *base) Address() Address { return b.addr }
func (b *base) Dump() string     { return b.body }

func (b *base) Fingerprint() string {
	return Fingerprint(b.body)
}

func (b *base) loadMetadata(ctx context.Context) error {
	meta, err := b.client.Describe(ctx, b.addr.Project, b.addr.Dataset, b.addr.Name)
	if err != nil {
		return err
	}
	b.meta = Metadata{
		Exists:           meta.Exists,
		Description:      meta.Description,
		LastModifiedTime: meta.LastModifiedTime,
		RunningJobID:     meta.RunningJobID,
	}
	b.metaLoad = true
	return nil
}

func (b *base) Exists(ctx context.Context) (bool, error) {
	if err := b.loadMetadata(ctx); err != nil {
		return false, err
	}
	return b.meta.Exists, nil
}

func (b *base) IsRunning(ctx context.Context) (bool, error) {
	if b.meta.RunningJobID == "" {
		return false, nil
	}
	status, err := b.client.JobStatus(ctx, b.meta.RunningJobID)
	if err != nil {
		return false, err
	}
	return status == warehouse.JobRunning, nil
}

func (b *base) ShouldUpdate(ctx context.Context) (bool, error) {
	if !b.metaLoad {
		if err := b.loadMetadata(ctx); err != nil {
			return false, err
		}
	}
	if !b.meta.Exists {
		return true, nil
	}
	return extractFingerprint(b.meta.Description) != b.Fingerprint(), nil
}

// UpdateTime always re-describes the warehouse object rather than trusting
// a cache populated before this resource's own Create() may have run: the
// executor calls UpdateTime right after a submitted job finishes, and a
// stale cache there would silently defeat the dependency-newer-than-self
// check in spec.md §4.G step (e).
func (b *base) UpdateTime(ctx context.Context) (*time.Time, error) {
	if err := b.loadMetadata(ctx); err != nil {
		return nil, err
	}
	return b.meta.LastModifiedTime, nil
}

func (b *base) Create(ctx context.Context, sql string) error {
	jobID, err := b.client.SubmitQuery(ctx, warehouse.QuerySubmission{
		Project:     b.addr.Project,
		Dataset:     b.addr.Dataset,
		Table:       b.addr.Name,
		SQL:         sql,
		Description: embedFingerprint(b.Fingerprint()),
	})
	if err != nil {
		return err
	}
	b.meta.RunningJobID = jobID
	return nil
}

const fingerprintPrefix = "bqm2-fingerprint:"

func embedFingerprint(fp string) string {
	return fingerprintPrefix + fp
}

func extractFingerprint(description string) string {
	if idx := strings.Index(description, fingerprintPrefix); idx >= 0 {
		return description[idx+len(fingerprintPrefix):]
	}
	return ""
}

// dependsOnBody is the default DependsOn implementation shared by every
// non-dataset kind, per spec.md §4.E's dependency-inference rules: a
// resource depends on its own dataset resource (dataset_id appears as a
// free identifier), and on any other non-dataset resource whose qualified
// identifier is a strict substring of this resource's rendered body.
// Dataset resources never depend on table/view resources, and self-
// dependency is always false; those exclusions are enforced by each kind's
// DependsOn (Dataset.DependsOn always returns false, and every other kind
// returns false for a resource with its own key before calling this), not
// here.
func dependsOnBody(body string, other Resource) bool {
	if other.Kind() == KindDataset {
		return StrictSubstring(other.Address().Dataset, body) ||
			StrictSubstring(fmt.Sprintf("`%s`", other.Address().Dataset), body)
	}
	for _, ident := range QualifiedIdentifiers(other.Address()) {
		if StrictSubstring(ident, body) {
			return true
		}
	}
	return false
}
