package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dataforge/bqm2-engine/common"
	"github.com/dataforge/bqm2-engine/config"
	"github.com/dataforge/bqm2-engine/executor"
	"github.com/dataforge/bqm2-engine/explode"
	"github.com/dataforge/bqm2-engine/graph"
	"github.com/dataforge/bqm2-engine/internal/api"
	"github.com/dataforge/bqm2-engine/internal/api/auth"
	"github.com/dataforge/bqm2-engine/internal/store"
	"github.com/dataforge/bqm2-engine/internal/store/cache"
	"github.com/dataforge/bqm2-engine/loader"
)

// serveCmd starts the companion HTTP API of SPEC_FULL.md §12.7: the same
// loader/graph/executor pipeline runEngine drives, exposed over
// /dataforge REST routes instead of a one-shot CLI invocation.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the /dataforge companion HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("couchdbURL", "", "CouchDB connection URL (overrides BQM2_DB_URL; empty with no env value uses a local bolt file instead)")
	serveCmd.Flags().String("boltPath", "bqm2-engine.db", "local bolt database path, used when no CouchDB URL is configured")
	serveCmd.Flags().String("redisAddr", "localhost:6379", "redis address backing the run lock/status cache")
	serveCmd.Flags().String("jwtSecret", "", "HMAC secret for companion API bearer tokens (overrides BQM2_AUTH_JWT_SECRET; empty disables auth)")

	for _, name := range []string{"couchdbURL", "boltPath", "redisAddr", "jwtSecret"} {
		_ = viper.BindPFlag(name, serveCmd.Flags().Lookup(name))
	}

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dbCfg := config.LoadDatabaseConfig("BQM2_DB")
	docs, err := buildDocumentRepository(ctx, dbCfg)
	if err != nil {
		return err
	}

	cacheRepo := cache.NewRedisRepository(viper.GetString("redisAddr"), "", 0)

	authCfg := config.LoadAuthConfig("BQM2_AUTH")
	secret := viper.GetString("jwtSecret")
	if secret == "" {
		secret = authCfg.JWTSecret
	}
	var issuer *auth.Issuer
	if secret != "" {
		issuer = auth.NewIssuer([]byte(secret), authCfg.JWTExpiry)
	}

	srvCfg := config.LoadServerConfig("BQM2")
	corsCfg := config.LoadCORSConfig("BQM2_CORS")

	server := api.NewServer(srvCfg, corsCfg, issuer, docs, cacheRepo, runFolder)

	signalCtx, cancel := signalContext()
	defer cancel()
	return server.Start(signalCtx, srvCfg.ShutdownTimeout)
}

// buildDocumentRepository prefers an explicit --couchdbURL flag, then
// BQM2_DB_URL from dbCfg, and falls back to a local bolt file only when
// neither names a CouchDB endpoint.
func buildDocumentRepository(ctx context.Context, dbCfg config.DatabaseConfig) (store.DocumentRepository, error) {
	url := viper.GetString("couchdbURL")
	if url == "" && os.Getenv("BQM2_DB_URL") != "" {
		url = dbCfg.URL
	}
	if url != "" {
		return store.NewCouchRepository(ctx, url)
	}
	return store.NewBoltRepository(viper.GetString("boltPath"))
}

// runFolder implements api.RunFunc: it loads folderPath with the same
// resource pipeline runEngine uses and executes the resulting graph to
// completion.
func runFolder(ctx context.Context, folderPath string) ([]string, []string, error) {
	explode.SetEffectiveDate(time.Now().UTC())

	log := common.NewContextLogger(common.Logger, map[string]interface{}{"component": "companion-api"})

	opts := loader.Options{
		DefaultProject: viper.GetString("defaultProject"),
		DefaultDataset: viper.GetString("defaultDataset"),
		Client:         buildWarehouseClient(),
		BashRunner:     executor.NewShellRunner(log),
	}

	objClient, err := buildObjectStoreClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	if objClient != nil {
		opts.ObjectReader = objectReaderAdapter{client: objClient}
	}

	expanded, err := homedir.Expand(folderPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving folder %q: %w", folderPath, err)
	}

	resources, err := loader.LoadFolder(expanded, opts)
	if err != nil {
		return nil, nil, err
	}

	g, err := graph.Build(resources)
	if err != nil {
		return nil, nil, err
	}

	results, err := executor.Run(ctx, g, executor.Options{
		MaxConcurrent:  viper.GetInt("maxConcurrent"),
		MaxRetry:       viper.GetInt("maxRetry"),
		CheckFrequency: viper.GetDuration("checkFrequency"),
		Logger:         log,
	})
	if err != nil {
		return nil, nil, err
	}

	var keys, failed []string
	for key, r := range results {
		keys = append(keys, key)
		if r.Status == executor.StatusFailed {
			failed = append(failed, key)
		}
	}

	return keys, failed, nil
}
