// Package loader implements the resource loader registry of spec.md §4.D:
// a dispatcher mapping file suffix to a specialized builder that reads one
// descriptor file, runs the exploder and template evaluator over every
// generated binding, and constructs the typed Resource objects those
// bindings describe. It is grounded on the teacher's workflow/parser.go
// type-dispatch-by-suffix idiom, generalized from "parse one workflow
// document into typed actions" to "parse one descriptor file into typed
// warehouse resources."
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dataforge/bqm2-engine/dateformat"
	"github.com/dataforge/bqm2-engine/engineerr"
	"github.com/dataforge/bqm2-engine/explode"
	"github.com/dataforge/bqm2-engine/resource"
	"github.com/dataforge/bqm2-engine/template"
	"github.com/dataforge/bqm2-engine/warehouse"
)

// Kind suffixes recognized by the registry, per spec.md §4.D.
const (
	SuffixView          = ".view"
	SuffixQueryTemplate = ".querytemplate"
	SuffixUnionTable    = ".uniontable"
	SuffixUnionView     = ".unionview"
	SuffixLocalData     = ".localdata"
	SuffixGCSData       = ".gcsdata"
	SuffixBashTemplate  = ".bashtemplate"
	SuffixExternalTable = ".externaltable"
	SuffixSchema        = ".schema"
)

// recognizedSuffixes lists every suffix the registry dispatches, in a fixed
// order so folder scans are deterministic.
var recognizedSuffixes = []string{
	SuffixView, SuffixQueryTemplate, SuffixUnionTable, SuffixUnionView,
	SuffixLocalData, SuffixGCSData, SuffixBashTemplate, SuffixExternalTable,
}

// Options carries the process-wide context every loader needs: the
// defaults injected by explode (project/dataset/effective date), the
// warehouse client resources are bound to, a bash runner for
// `.bashtemplate`, and an object-storage reader for `.gcsdata` URL sources.
type Options struct {
	DefaultProject string
	DefaultDataset string
	GlobalVars     map[string]string
	Client         warehouse.Client
	BashRunner     resource.BashRunner
	ObjectReader   ObjectReader
	DateHelpers    *dateformat.Helpers
}

// ObjectReader is the object-storage boundary a `.gcsdata` loader uses only
// to validate that a source URL is reachable at load time; the actual data
// transfer for a load job is the warehouse client's job, not the loader's.
type ObjectReader interface {
	Exists(url string) (bool, error)
}

// seen tracks, per resource key, the fingerprint of the first body that
// produced it — enforcing spec.md §3's "Unique-key enforcement" invariant
// across every file in a run.
type seen struct {
	fingerprints map[string]string
}

func newSeen() *seen { return &seen{fingerprints: map[string]string{}} }

func (s *seen) check(key, fingerprint string) error {
	prior, ok := s.fingerprints[key]
	if !ok {
		s.fingerprints[key] = fingerprint
		return nil
	}
	if prior != fingerprint {
		return engineerr.New(engineerr.DuplicateKeyDivergent, key,
			"resource key %q produced by two descriptors with different bodies", key)
	}
	return nil
}

// LoadFolder scans folder non-recursively for descriptor files by suffix
// and returns every resource they produce, plus the auto-injected dataset
// resources named in spec.md §3's invariant.
func LoadFolder(folder string, opts Options) ([]resource.Resource, error) {
	if opts.DateHelpers == nil {
		opts.DateHelpers = dateformat.Default()
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	dedupe := newSeen()
	datasets := map[string]*resource.Dataset{}
	var all []resource.Resource

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		suffix, ok := matchSuffix(name)
		if !ok {
			continue
		}
		path := filepath.Join(folder, name)
		resources, err := loadFile(path, suffix, opts, dedupe)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		for _, r := range resources {
			ds := r.Address().Dataset
			if _, ok := datasets[ds]; !ok {
				datasets[ds] = resource.NewDataset(resource.Address{
					Project: r.Address().Project,
					Dataset: ds,
				}, opts.Client)
			}
			all = append(all, r)
		}
	}

	for _, ds := range datasets {
		all = append(all, ds)
	}
	return all, nil
}

func matchSuffix(filename string) (string, bool) {
	for _, s := range recognizedSuffixes {
		if strings.HasSuffix(filename, s) {
			return s, true
		}
	}
	return "", false
}

// rawDescriptor unmarshals a descriptor file's top level, which may be a
// single Binding or a list of Bindings, per spec.md §6.
func rawDescriptor(path string) ([]explode.Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var asList []map[string]interface{}
	if err := yaml.Unmarshal(data, &asList); err == nil && asList != nil {
		out := make([]explode.Raw, len(asList))
		for i, m := range asList {
			out[i] = explode.Raw(m)
		}
		return out, nil
	}

	var asMap map[string]interface{}
	if err := yaml.Unmarshal(data, &asMap); err != nil {
		return nil, fmt.Errorf("descriptor is neither a binding map nor a list of bindings: %w", err)
	}
	return []explode.Raw{explode.Raw(asMap)}, nil
}

func loadFile(path, suffix string, opts Options, dedupe *seen) ([]resource.Resource, error) {
	descriptors, err := rawDescriptor(path)
	if err != nil {
		return nil, err
	}

	filename, folder := splitPath(path, suffix)
	defaults := explode.Defaults{
		Project:       opts.DefaultProject,
		Dataset:       opts.DefaultDataset,
		EffectiveDate: explode.EffectiveDate(),
		Filename:      filename,
		Folder:        folder,
	}

	var out []resource.Resource
	for _, raw := range descriptors {
		if suffix == SuffixUnionTable || suffix == SuffixUnionView {
			resources, err := loadUnion(raw, suffix, defaults, opts, dedupe)
			if err != nil {
				return nil, err
			}
			out = append(out, resources...)
			continue
		}

		bindings, err := explode.Explode(raw, defaults, opts.DateHelpers)
		if err != nil {
			return nil, err
		}
		for _, b := range bindings {
			b = mergeGlobals(b, opts.GlobalVars)
			resolved, err := template.Resolve(b)
			if err != nil {
				return nil, err
			}
			r, err := buildResource(suffix, resolved, path, opts)
			if err != nil {
				return nil, err
			}
			if r == nil {
				continue
			}
			if err := dedupe.check(r.Key(), r.Fingerprint()); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// mergeGlobals layers the CLI's globally-bound vars beneath a binding's own
// keys, never overwriting a key the descriptor itself already set — global
// vars are the lowest-precedence source for a per-resource binding, since
// `--var`/`--varsFile` precedence is resolved once into opts.GlobalVars
// before any file is loaded (see cli package).
func mergeGlobals(b map[string]string, globals map[string]string) map[string]string {
	if len(globals) == 0 {
		return b
	}
	out := make(map[string]string, len(b)+len(globals))
	for k, v := range globals {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func splitPath(path, suffix string) (filename, folder string) {
	folder = filepath.Dir(path)
	base := filepath.Base(path)
	filename = strings.TrimSuffix(base, suffix)
	return filename, folder
}

func addressFrom(b map[string]string) resource.Address {
	return resource.Address{
		Project: b["project"],
		Dataset: b["dataset"],
		Name:    b["table"],
	}
}

func buildResource(suffix string, b map[string]string, path string, opts Options) (resource.Resource, error) {
	addr := addressFrom(b)
	if addr.Dataset == "" {
		return nil, engineerr.New(engineerr.TemplateUnmapped, path, "descriptor has no dataset and no --defaultDataset given")
	}
	if addr.Name == "" && suffix != SuffixView {
		return nil, engineerr.New(engineerr.TemplateUnmapped, path, "descriptor has no table and no filename to default from")
	}

	switch suffix {
	case SuffixView:
		sql, ok := b["query"]
		if !ok {
			return nil, engineerr.New(engineerr.TemplateUnmapped, path, "view descriptor missing 'query'")
		}
		return resource.NewView(addr, sql, opts.Client), nil

	case SuffixQueryTemplate:
		sql, ok := b["query"]
		if !ok {
			return nil, engineerr.New(engineerr.TemplateUnmapped, path, "querytemplate descriptor missing 'query'")
		}
		return resource.NewTable(addr, sql, opts.Client), nil

	case SuffixLocalData:
		schema, err := loadSchema(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(localDataFile(path, b))
		if err != nil {
			return nil, fmt.Errorf("reading localdata source: %w", err)
		}
		return resource.NewLocalDataLoad(addr, data, schema, opts.Client), nil

	case SuffixGCSData:
		sourceURL, ok := b["sourceUrl"]
		if !ok {
			sourceURL = b["source_url"]
		}
		if sourceURL == "" {
			return nil, engineerr.New(engineerr.TemplateUnmapped, path, "gcsdata descriptor missing 'sourceUrl'")
		}
		if opts.ObjectReader != nil {
			if exists, err := opts.ObjectReader.Exists(sourceURL); err == nil && !exists {
				return nil, engineerr.New(engineerr.WarehouseFatal, path, "gcsdata source %q does not exist", sourceURL)
			}
		}
		schema, err := loadSchema(path)
		if err != nil {
			return nil, err
		}
		query := b["query"]
		return resource.NewGCSDataLoad(addr, sourceURL, query, schema, opts.Client), nil

	case SuffixBashTemplate:
		cmd, ok := b["command"]
		if !ok {
			return nil, engineerr.New(engineerr.TemplateUnmapped, path, "bashtemplate descriptor missing 'command'")
		}
		return resource.NewBash(addr, cmd, opts.BashRunner, opts.Client), nil

	case SuffixExternalTable:
		def, ok := b["definition"]
		if !ok {
			def = b["query"]
		}
		return resource.NewExternalTable(addr, def, opts.Client), nil
	}

	return nil, fmt.Errorf("loader: unrecognized suffix %q", suffix)
}

// loadUnion handles `.uniontable`/`.unionview`: the descriptor's "queries"
// field is an array of sub-bindings, each independently resolved against
// the shared outer binding and rendered into one SQL part; every other
// field explodes normally (so, e.g., a date offset still multiplies the
// union resource across dates), but the queries array itself is concatenated
// with UNION ALL into a single resource rather than exploded into N
// resources.
func loadUnion(raw explode.Raw, suffix string, defaults explode.Defaults, opts Options, dedupe *seen) ([]resource.Resource, error) {
	queriesRaw, ok := raw["queries"].([]interface{})
	if !ok {
		return nil, engineerr.New(engineerr.TemplateUnmapped, defaults.Filename, "%s descriptor missing 'queries' array", suffix)
	}

	shared := explode.Raw{}
	for k, v := range raw {
		if k == "queries" {
			continue
		}
		shared[k] = v
	}

	sharedBindings, err := explode.Explode(shared, defaults, opts.DateHelpers)
	if err != nil {
		return nil, err
	}

	var out []resource.Resource
	for _, base := range sharedBindings {
		base = mergeGlobals(base, opts.GlobalVars)

		var parts []string
		for _, qr := range queriesRaw {
			sub, ok := qr.(map[string]interface{})
			if !ok {
				continue
			}
			merged := explode.Raw{}
			for k, v := range base {
				merged[k] = v
			}
			for k, v := range sub {
				merged[k] = v
			}
			exploded, err := explode.Explode(merged, defaults, opts.DateHelpers)
			if err != nil {
				return nil, err
			}
			for _, e := range exploded {
				resolved, err := template.Resolve(e)
				if err != nil {
					return nil, err
				}
				q, ok := resolved["query"]
				if !ok {
					return nil, engineerr.New(engineerr.TemplateUnmapped, defaults.Filename, "union query part missing 'query'")
				}
				parts = append(parts, q)
			}
		}

		resolvedBase, err := template.Resolve(base)
		if err != nil {
			return nil, err
		}
		addr := addressFrom(resolvedBase)
		if addr.Dataset == "" {
			return nil, engineerr.New(engineerr.TemplateUnmapped, defaults.Filename, "union descriptor has no dataset")
		}

		var r resource.Resource
		if suffix == SuffixUnionTable {
			r = resource.NewUnionTable(addr, parts, opts.Client)
		} else {
			r = resource.NewUnionView(addr, parts, opts.Client)
		}
		if err := dedupe.check(r.Key(), r.Fingerprint()); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// loadSchema reads the `.schema` sidecar file beside a `.localdata`/
// `.gcsdata` descriptor, if one exists: either a JSON array of
// {"name":...,"type":...} objects or a "name:type,..." CSV line, per
// SPEC_FULL.md §12.4.
func loadSchema(descriptorPath string) ([]warehouse.SchemaField, error) {
	schemaPath := strings.TrimSuffix(descriptorPath, filepath.Ext(descriptorPath)) + SuffixSchema
	data, err := os.ReadFile(schemaPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var asJSON []warehouse.SchemaField
	if err := json.Unmarshal(data, &asJSON); err == nil {
		return asJSON, nil
	}

	var fields []warehouse.SchemaField
	for _, pair := range strings.Split(strings.TrimSpace(string(data)), ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		fields = append(fields, warehouse.SchemaField{
			Name: strings.TrimSpace(parts[0]),
			Type: strings.TrimSpace(parts[1]),
		})
	}
	return fields, nil
}

// localDataFile resolves the on-disk data source for a `.localdata`
// resource: by default the descriptor file itself carries the data inline
// (per spec.md §6: "the file's content itself is the data to load"), but a
// binding may point at a sibling file via a "file" key.
func localDataFile(descriptorPath string, b map[string]string) string {
	if f, ok := b["file"]; ok && f != "" {
		return filepath.Join(filepath.Dir(descriptorPath), f)
	}
	return descriptorPath
}

// effectiveDateOrNow is a defensive fallback for an effective date that was
// never frozen. Nothing in this module calls it; production code paths call
// explode.SetEffectiveDate during CLI startup instead.
func effectiveDateOrNow() time.Time {
	if t := explode.EffectiveDate(); !t.IsZero() {
		return t
	}
	return time.Now().UTC()
}
