package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"guest_reviews/internal/adapters/hostaway"
	"guest_reviews/internal/adapters/observability"
	redisad "guest_reviews/internal/adapters/redis"
	"guest_reviews/internal/app"
	"guest_reviews/internal/domain"
	"guest_reviews/internal/shared"
	mysqlrepo "guest_reviews/internal/storage/mysql"
)

type options struct {
	files   []string
	fromAPI bool
	strict  bool
	dryRun  bool
	workers int
}

func main() {
	var opts options
	cfg := shared.Load()

	root := &cobra.Command{
		Use:   "ingestor",
		Short: "Normalize Hostaway reviews and store them",
		Long: `ingestor reads Hostaway review payloads from files or the Hostaway API,
normalizes them and upserts them into MySQL. Per-record failures are logged
and skipped unless --strict is set.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, opts)
		},
	}
	root.Flags().StringSliceVarP(&opts.files, "file", "f", nil, "payload file(s) to ingest (repeatable)")
	root.Flags().BoolVar(&opts.fromAPI, "api", false, "pull from the Hostaway API instead of files")
	root.Flags().BoolVar(&opts.strict, "strict", cfg.IngestStrict, "abort a batch on its first invalid record")
	root.Flags().BoolVar(&opts.dryRun, "dry-run", false, "normalize and print, store nothing")
	root.Flags().IntVar(&opts.workers, "workers", cfg.Workers, "files processed concurrently")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg shared.Config, opts options) error {
	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	if !opts.fromAPI && len(opts.files) == 0 {
		opts.files = []string{cfg.HostawayMock}
	}
	if opts.workers <= 0 {
		opts.workers = 1
	}
	log.Info().
		Strs("files", opts.files).
		Bool("api", opts.fromAPI).
		Bool("strict", opts.strict).
		Int("workers", opts.workers).
		Msg("ingestor starting")

	if opts.dryRun {
		return dryRun(ctx, opts.files)
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return fmt.Errorf("sql.Open: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	log.Info().Msg("db ping ok")
	repo := mysqlrepo.New(db)

	// the API's cached views must see this batch
	var approvals domain.ApprovalStore = repo
	var cache domain.Cache
	rdb := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		if cfg.ApprovalStore == "redis" {
			return fmt.Errorf("APPROVAL_STORE=redis but redis is unreachable: %w", err)
		}
		log.Warn().Err(err).Msg("redis unreachable; cached API views will expire on their own")
	} else {
		cache = redisad.NewCache(rdb)
	}
	if cfg.ApprovalStore == "redis" {
		approvals = redisad.NewApprovalStore(rdb)
	}
	q := app.NewQueryService(repo, approvals, cache, cfg.CacheTTL, cfg.StoreTimeout)

	if opts.fromAPI {
		cl, err := hostaway.New(cfg.HostawayBase, cfg.HostawayAcct, cfg.HostawayKey, 5)
		if err != nil {
			return err
		}
		res, err := app.NewIngestionService(cl, repo, q).IngestFromSource(ctx, opts.strict)
		if err != nil {
			return err
		}
		log.Info().Int("stored", res.Stored).Int("failed", len(res.Failures)).Msg("ingestion completed")
		return nil
	}

	sem := semaphore.NewWeighted(int64(opts.workers))
	var wg sync.WaitGroup
	var failed atomic.Int32

	for _, path := range opts.files {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer sem.Release(1)

			ing := app.NewIngestionService(hostaway.NewFileSource(path), repo, q)
			res, err := ing.IngestFromSource(ctx, opts.strict)
			if err != nil {
				failed.Add(1)
				log.Warn().Str("file", path).Err(err).Msg("ingest failed")
				return
			}
			log.Info().Str("file", path).Int("stored", res.Stored).Int("skipped", len(res.Failures)).Msg("ingest ok")
		}(path)
	}
	wg.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(opts.files))
	}
	log.Info().Msg("ingestion completed")
	return nil
}

// dryRun prints what each file normalizes to without touching any store.
func dryRun(ctx context.Context, files []string) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, path := range files {
		p, err := hostaway.NewFileSource(path).FetchReviews(ctx)
		if err != nil {
			return err
		}
		b, _ := app.NormalizeBatch(domain.SourceHostaway, p.Result, false)
		if err := enc.Encode(map[string]any{"file": path, "normalized": b.Reviews, "failures": b.Failures}); err != nil {
			return err
		}
	}
	return nil
}
