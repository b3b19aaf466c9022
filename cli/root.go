// Package cli implements the bqm2-engine command-line entrypoint: a cobra
// root command, viper-backed flag/env/file binding, and the flow that ties
// every engine package together — load descriptors from one or more
// folders, build the dependency graph, and dispatch to exactly one terminal
// mode (show/dotml/dump/execute, plus the showJobs/print-global-args
// diagnostics). It is grounded on the teacher's cli/root.go cobra+viper
// wiring, generalized from "start an HTTP server" to "run one batch build."
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dataforge/bqm2-engine/common"
	"github.com/dataforge/bqm2-engine/executor"
	"github.com/dataforge/bqm2-engine/explode"
	"github.com/dataforge/bqm2-engine/graph"
	"github.com/dataforge/bqm2-engine/loader"
	"github.com/dataforge/bqm2-engine/modes"
	"github.com/dataforge/bqm2-engine/objectstore"
	"github.com/dataforge/bqm2-engine/resource"
	"github.com/dataforge/bqm2-engine/warehouse"
)

var cfgFile string

// RootCmd is the bqm2-engine entrypoint: one batch run over the descriptor
// folders given as arguments, ending in exactly one terminal mode.
var RootCmd = &cobra.Command{
	Use:   "bqm2-engine [folder...]",
	Short: "template-driven warehouse table builder",
	Long: `bqm2-engine expands .view/.querytemplate/.localdata/.gcsdata/.bashtemplate/
.externaltable/.uniontable/.unionview descriptors found in the given
folders, resolves their date-offset and templated fields, builds the
dependency graph between the resulting resources, and runs exactly one of:

  --show               print the graph in dependencies-first order
  --dotml               print the graph as a Graphviz digraph
  --dumpToFolder DIR    write one <key>.debug file per resource to DIR
  --execute             run the dependency-ordered scheduler (default)
  --showJobs            list resources still running at exit
  --print-global-args   print the resolved --var/--varsFile bindings and exit
`,
	RunE: runEngine,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.bqm2-engine.yaml)")

	RootCmd.Flags().Bool("execute", false, "run the dependency-ordered scheduler (default mode)")
	RootCmd.Flags().Bool("show", false, "print the graph in dependencies-first order")
	RootCmd.Flags().Bool("dotml", false, "print the graph as a Graphviz digraph")
	RootCmd.Flags().String("dumpToFolder", "", "write one <key>.debug file per resource to this folder")
	RootCmd.Flags().Bool("showJobs", false, "list resources still running at exit")
	RootCmd.Flags().Bool("print-global-args", false, "print the resolved --var/--varsFile bindings and exit")

	RootCmd.Flags().StringSlice("var", nil, "KEY=VALUE global binding, repeatable, highest precedence after per-descriptor fields")
	RootCmd.Flags().String("varsFile", "", "YAML file of global KEY: VALUE bindings, lowest precedence")
	RootCmd.Flags().String("defaultProject", "", "project used when a descriptor omits one")
	RootCmd.Flags().String("defaultDataset", "", "dataset used when a descriptor omits one")
	RootCmd.Flags().String("effective-date-as-isoformat", "", "freeze the date-offset anchor, e.g. 2026-07-31")

	RootCmd.Flags().Int("maxConcurrent", 10, "maximum resources running at once")
	RootCmd.Flags().Int("maxRetry", 2, "retry budget per resource for retryable failures")
	RootCmd.Flags().Duration("checkFrequency", 10*time.Second, "poll interval for in-flight resources")

	RootCmd.Flags().String("bqClientLocation", "US", "warehouse client region/location")
	RootCmd.Flags().String("warehouseEndpoint", "", "warehouse HTTP client base URL (empty uses an in-memory fake client)")
	RootCmd.Flags().String("warehouseAuthToken", "", "warehouse HTTP client bearer token")

	RootCmd.Flags().String("objectStoreEndpoint", "", "S3-compatible endpoint backing .gcsdata source validation (empty skips validation)")
	RootCmd.Flags().String("objectStoreAccessKey", "", "S3-compatible access key")
	RootCmd.Flags().String("objectStoreSecretKey", "", "S3-compatible secret key")
	RootCmd.Flags().String("objectStoreRegion", "us-east-1", "S3-compatible region")

	for _, name := range []string{
		"execute", "show", "dotml", "dumpToFolder", "showJobs", "print-global-args",
		"var", "varsFile", "defaultProject", "defaultDataset", "effective-date-as-isoformat",
		"maxConcurrent", "maxRetry", "checkFrequency",
		"bqClientLocation", "warehouseEndpoint", "warehouseAuthToken",
		"objectStoreEndpoint", "objectStoreAccessKey", "objectStoreSecretKey", "objectStoreRegion",
	} {
		_ = viper.BindPFlag(name, RootCmd.Flags().Lookup(name))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".bqm2-engine")
	}

	viper.SetEnvPrefix("BQM2")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// modeCount counts how many of the mutually exclusive terminal-mode flags
// were explicitly set, so a request naming more than one can be rejected
// per spec.md §6 rather than silently picking one.
func modeCount(cmd *cobra.Command) int {
	n := 0
	for _, name := range []string{"execute", "show", "dotml", "dumpToFolder", "showJobs", "print-global-args"} {
		if cmd.Flags().Changed(name) {
			n++
		}
	}
	return n
}

func runEngine(cmd *cobra.Command, args []string) error {
	if modeCount(cmd) > 1 {
		return fmt.Errorf("only one of --execute/--show/--dotml/--dumpToFolder/--showJobs/--print-global-args may be given")
	}

	globals, err := resolveGlobalArgs()
	if err != nil {
		return err
	}

	if viper.GetBool("print-global-args") {
		modes.PrintGlobalArgs(os.Stdout, globals)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("at least one descriptor folder is required")
	}

	if raw := viper.GetString("effective-date-as-isoformat"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return fmt.Errorf("parsing --effective-date-as-isoformat %q: %w", raw, err)
		}
		explode.SetEffectiveDate(t)
	} else {
		explode.SetEffectiveDate(time.Now().UTC())
	}

	log := common.NewContextLogger(common.Logger, map[string]interface{}{"component": "engine"})

	opts := loader.Options{
		DefaultProject: viper.GetString("defaultProject"),
		DefaultDataset: viper.GetString("defaultDataset"),
		GlobalVars:     globals,
		Client:         buildWarehouseClient(),
		BashRunner:     executor.NewShellRunner(log),
	}

	objClient, err := buildObjectStoreClient(cmd.Context())
	if err != nil {
		return err
	}
	if objClient != nil {
		opts.ObjectReader = objectReaderAdapter{client: objClient}
	}

	var all []resource.Resource
	for _, folder := range args {
		expanded, err := homedir.Expand(folder)
		if err != nil {
			return fmt.Errorf("resolving folder %q: %w", folder, err)
		}
		loaded, err := loader.LoadFolder(expanded, opts)
		if err != nil {
			return fmt.Errorf("loading %s: %w", expanded, err)
		}
		all = append(all, loaded...)
	}

	g, err := graph.Build(all)
	if err != nil {
		return err
	}

	switch {
	case viper.GetBool("show"):
		modes.Show(os.Stdout, g)
		return nil

	case viper.GetBool("dotml"):
		modes.Dotml(os.Stdout, g)
		return nil

	case viper.GetString("dumpToFolder") != "":
		return modes.Dump(os.Stdout, g, viper.GetString("dumpToFolder"))

	case viper.GetBool("showJobs"):
		ctx, cancel := signalContext()
		defer cancel()
		results, err := executor.Run(ctx, g, executorOptions(log))
		if err != nil {
			return err
		}
		modes.ShowJobs(os.Stdout, results)
		return nil

	default:
		ctx, cancel := signalContext()
		defer cancel()
		return modes.Execute(ctx, os.Stdout, g, executorOptions(log))
	}
}

func executorOptions(log *common.ContextLogger) executor.Options {
	return executor.Options{
		MaxConcurrent:  viper.GetInt("maxConcurrent"),
		MaxRetry:       viper.GetInt("maxRetry"),
		CheckFrequency: viper.GetDuration("checkFrequency"),
		Logger:         log,
	}
}

// signalContext returns a context canceled on SIGINT/SIGTERM, so a
// long-running --execute can be interrupted cleanly mid-poll.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// resolveGlobalArgs implements spec.md §6's --var/--varsFile precedence:
// --varsFile supplies the lowest-precedence layer, each repeated --var
// KEY=VALUE overrides it, matching the original kvoption.py behavior ported
// during this engine's template/explode work. A --var value beginning with
// "[" is parsed as a JSON array (joined with "," once flattened to a single
// binding value); a value beginning with "file:" is replaced by the named
// file's contents; anything else is a literal string. A --var key repeated
// more than once is an error.
func resolveGlobalArgs() (map[string]string, error) {
	globals := map[string]string{}

	if path := viper.GetString("varsFile"); path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("resolving --varsFile %q: %w", path, err)
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return nil, fmt.Errorf("reading --varsFile %q: %w", expanded, err)
		}
		var fromFile map[string]string
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("parsing --varsFile %q: %w", expanded, err)
		}
		for k, v := range fromFile {
			globals[k] = v
		}
	}

	seenVar := map[string]bool{}
	for _, kv := range viper.GetStringSlice("var") {
		k, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--var %q is not in KEY=VALUE form", kv)
		}
		if seenVar[k] {
			return nil, fmt.Errorf("--var key %q given more than once", k)
		}
		seenVar[k] = true

		v, err := parseVarValue(raw)
		if err != nil {
			return nil, fmt.Errorf("--var %s: %w", k, err)
		}
		globals[k] = v
	}

	return globals, nil
}

// parseVarValue implements spec.md §6's --var value-parsing rules: a value
// beginning with "[" parses as a JSON array of strings (rendered back into
// a single comma-joined scalar, the form every downstream binding consumer
// expects); a value beginning with "file:" reads the named file's contents
// verbatim; anything else is passed through as a literal string.
func parseVarValue(raw string) (string, error) {
	switch {
	case strings.HasPrefix(raw, "["):
		var arr []string
		if err := json.Unmarshal([]byte(raw), &arr); err != nil {
			return "", fmt.Errorf("parsing JSON array value %q: %w", raw, err)
		}
		return strings.Join(arr, ","), nil

	case strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(raw, "file:")
		expanded, err := homedir.Expand(path)
		if err != nil {
			return "", fmt.Errorf("resolving file: path %q: %w", path, err)
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return "", fmt.Errorf("reading file: path %q: %w", expanded, err)
		}
		return string(data), nil

	default:
		return raw, nil
	}
}

func buildWarehouseClient() warehouse.Client {
	endpoint := viper.GetString("warehouseEndpoint")
	if endpoint == "" {
		return warehouse.NewFakeClient()
	}
	token := viper.GetString("warehouseAuthToken")
	if token == "" {
		token = os.Getenv("GOOGLE_OAUTH_ACCESS_TOKEN")
	}
	return warehouse.NewHTTPClient(endpoint, token)
}

func buildObjectStoreClient(ctx context.Context) (objectstore.Client, error) {
	endpoint := viper.GetString("objectStoreEndpoint")
	if endpoint == "" {
		return nil, nil
	}
	return objectstore.NewS3Client(ctx,
		endpoint,
		viper.GetString("objectStoreAccessKey"),
		viper.GetString("objectStoreSecretKey"),
		viper.GetString("objectStoreRegion"),
	)
}

// objectReaderAdapter bridges loader.ObjectReader's synchronous
// Exists(url string) signature to objectstore.Client's context-aware one;
// loader validation happens at folder-load time, before any per-resource
// context exists, so a background context is the right one to use here.
type objectReaderAdapter struct {
	client objectstore.Client
}

func (a objectReaderAdapter) Exists(url string) (bool, error) {
	return a.client.Exists(context.Background(), url)
}
