package resource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dataforge/bqm2-engine/warehouse"
)

// View is a `.view` resource: a rendered SELECT materialized as a warehouse
// view rather than a table.
type View struct {
	base
}

func NewView(addr Address, renderedSQL string, client warehouse.Client) *View {
	return &View{base: newBase(addr, renderedSQL, client)}
}

func (v *View) Kind() Kind { return KindView }
func (v *View) Create(ctx context.Context) error {
	return v.base.Create(ctx, "CREATE OR REPLACE VIEW `"+v.addr.Dataset+"."+v.addr.Name+"` AS\n"+v.body)
}
func (v *View) DependsOn(other Resource) bool {
	return other.Key() != v.Key() && dependsOnBody(v.body, other)
}

// Table is a `.querytemplate` resource: a rendered SELECT materialized as a
// concrete table.
type Table struct {
	base
}

func NewTable(addr Address, renderedSQL string, client warehouse.Client) *Table {
	return &Table{base: newBase(addr, renderedSQL, client)}
}

func (t *Table) Kind() Kind { return KindTable }
func (t *Table) Create(ctx context.Context) error {
	return t.base.Create(ctx, "CREATE OR REPLACE TABLE `"+t.addr.Dataset+"."+t.addr.Name+"` AS\n"+t.body)
}
func (t *Table) DependsOn(other Resource) bool {
	return other.Key() != t.Key() && dependsOnBody(t.body, other)
}

// UnionTable is a `.uniontable` resource: N rendered queries concatenated
// with UNION ALL into one table, per spec.md §4.D.
type UnionTable struct {
	base
	parts []string
}

func NewUnionTable(addr Address, parts []string, client warehouse.Client) *UnionTable {
	body := strings.Join(parts, "\nUNION ALL\n")
	return &UnionTable{base: newBase(addr, body, client), parts: parts}
}

func (u *UnionTable) Kind() Kind { return KindUnionTable }
func (u *UnionTable) Create(ctx context.Context) error {
	return u.base.Create(ctx, "CREATE OR REPLACE TABLE `"+u.addr.Dataset+"."+u.addr.Name+"` AS\n"+u.body)
}
func (u *UnionTable) DependsOn(other Resource) bool {
	return other.Key() != u.Key() && dependsOnBody(u.body, other)
}

// UnionView is a `.unionview` resource: same construction as UnionTable but
// materialized as a view.
type UnionView struct {
	base
	parts []string
}

func NewUnionView(addr Address, parts []string, client warehouse.Client) *UnionView {
	body := strings.Join(parts, "\nUNION ALL\n")
	return &UnionView{base: newBase(addr, body, client), parts: parts}
}

func (u *UnionView) Kind() Kind { return KindUnionView }
func (u *UnionView) Create(ctx context.Context) error {
	return u.base.Create(ctx, "CREATE OR REPLACE VIEW `"+u.addr.Dataset+"."+u.addr.Name+"` AS\n"+u.body)
}
func (u *UnionView) DependsOn(other Resource) bool {
	return other.Key() != u.Key() && dependsOnBody(u.body, other)
}

// DataLoad is a `.localdata` or `.gcsdata` resource: a table populated from
// either inline local data or a query over an object-storage URL.
type DataLoad struct {
	base
	sourceURL  string // set for .gcsdata
	inline     []byte // set for .localdata
	schema     []warehouse.SchemaField
	refBody    string // rendered descriptor text, used only for DependsOn scanning
}

func NewLocalDataLoad(addr Address, inline []byte, schema []warehouse.SchemaField, client warehouse.Client) *DataLoad {
	return &DataLoad{base: newBase(addr, string(inline), client), inline: inline, schema: schema, refBody: string(inline)}
}

func NewGCSDataLoad(addr Address, sourceURL string, renderedQuery string, schema []warehouse.SchemaField, client warehouse.Client) *DataLoad {
	return &DataLoad{base: newBase(addr, renderedQuery, client), sourceURL: sourceURL, schema: schema, refBody: renderedQuery}
}

func (d *DataLoad) Kind() Kind { return KindDataLoad }
func (d *DataLoad) Create(ctx context.Context) error {
	jobID, err := d.client.SubmitLoad(ctx, warehouse.LoadSubmission{
		Project:     d.addr.Project,
		Dataset:     d.addr.Dataset,
		Table:       d.addr.Name,
		SourceURL:   d.sourceURL,
		InlineData:  d.inline,
		Schema:      d.schema,
		Description: embedFingerprint(d.Fingerprint()),
	})
	if err != nil {
		return err
	}
	d.meta.RunningJobID = jobID
	return nil
}
func (d *DataLoad) DependsOn(other Resource) bool {
	return other.Key() != d.Key() && dependsOnBody(d.refBody, other)
}

// ExternalTable is a `.externaltable` resource: a definition pointing at
// externally-hosted data, registered synchronously (no asynchronous job).
type ExternalTable struct {
	base
}

func NewExternalTable(addr Address, definition string, client warehouse.Client) *ExternalTable {
	return &ExternalTable{base: newBase(addr, definition, client)}
}

func (e *ExternalTable) Kind() Kind { return KindExternalTable }
func (e *ExternalTable) Create(ctx context.Context) error {
	if err := e.client.SubmitExternal(ctx, e.addr.Project, e.addr.Dataset, e.addr.Name, e.body, embedFingerprint(e.Fingerprint())); err != nil {
		return err
	}
	return nil
}
func (e *ExternalTable) DependsOn(other Resource) bool {
	return other.Key() != e.Key() && dependsOnBody(e.body, other)
}

// Bash is a `.bashtemplate` resource: materialized by running an external
// shell command rather than a warehouse SQL job, grounded on the teacher's
// common/shell.go ShellExecute and executor/command_executor.go's
// exec.CommandContext usage.
type Bash struct {
	base
	command string
	runner  BashRunner
}

// BashRunner abstracts shell execution so Bash.Create can be tested without
// actually invoking a shell.
type BashRunner interface {
	Run(ctx context.Context, command string) (output string, err error)
}

func NewBash(addr Address, renderedCommand string, runner BashRunner, client warehouse.Client) *Bash {
	return &Bash{base: newBase(addr, renderedCommand, client), command: renderedCommand, runner: runner}
}

func (b *Bash) Kind() Kind { return KindBash }
func (b *Bash) Create(ctx context.Context) error {
	if _, err := b.runner.Run(ctx, b.command); err != nil {
		return fmt.Errorf("bash resource %s: %w", b.Key(), err)
	}
	// Bash resources run synchronously to completion; there is no
	// asynchronous warehouse job to poll, so IsRunning always reports false
	// once Create returns and ShouldUpdate compares the command text itself.
	b.meta.Exists = true
	b.meta.Description = embedFingerprint(b.Fingerprint())
	return nil
}
func (b *Bash) IsRunning(ctx context.Context) (bool, error) { return false, nil }
func (b *Bash) DependsOn(other Resource) bool {
	return other.Key() != b.Key() && dependsOnBody(b.command, other)
}

// Dataset is the container resource every non-dataset resource's address
// implicitly depends on, auto-injected by the loader registry per spec.md
// §3's invariant ("every non-dataset resource's address's dataset appears
// as a dataset resource in the graph").
type Dataset struct {
	addr   Address
	client warehouse.Client
	meta   Metadata
}

func NewDataset(addr Address, client warehouse.Client) *Dataset {
	return &Dataset{addr: addr, client: client}
}

func (d *Dataset) Key() string      { return d.addr.Dataset }
func (d *Dataset) Kind() Kind       { return KindDataset }
func (d *Dataset) Address() Address { return d.addr }
func (d *Dataset) Dump() string     { return "dataset " + d.addr.Dataset }
func (d *Dataset) Fingerprint() string {
	return Fingerprint("dataset:" + d.addr.Dataset)
}

func (d *Dataset) Exists(ctx context.Context) (bool, error) {
	datasets, err := d.client.ListDatasets(ctx, d.addr.Project)
	if err != nil {
		return false, err
	}
	for _, ds := range datasets {
		if ds == d.addr.Dataset {
			d.meta.Exists = true
			return true, nil
		}
	}
	return false, nil
}

func (d *Dataset) IsRunning(ctx context.Context) (bool, error) { return false, nil }
func (d *Dataset) ShouldUpdate(ctx context.Context) (bool, error) {
	exists, err := d.Exists(ctx)
	return !exists, err
}
func (d *Dataset) UpdateTime(ctx context.Context) (*time.Time, error) { return nil, nil }

func (d *Dataset) Create(ctx context.Context) error {
	return d.client.CreateDataset(ctx, d.addr.Project, d.addr.Dataset, "")
}

// DependsOn is always false: dataset resources never depend on table/view
// resources, per spec.md §4.E.
func (d *Dataset) DependsOn(other Resource) bool { return false }
