package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/elonfeng/notepulse/internal/config"
	"github.com/elonfeng/notepulse/internal/store"
	"github.com/elonfeng/notepulse/internal/worker"
	"github.com/elonfeng/notepulse/pkg/analysis"
	"github.com/elonfeng/notepulse/pkg/callback"
	"github.com/elonfeng/notepulse/pkg/ces"
	"github.com/elonfeng/notepulse/pkg/ingest"
	"github.com/elonfeng/notepulse/pkg/server"
	"github.com/elonfeng/notepulse/pkg/workflow"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// applyScoreFlags layers command-line overrides on the configured pipeline.
func applyScoreFlags(cfg ces.FilterConfig, flags scoreFlags) ces.FilterConfig {
	if flags.minCES > 0 {
		cfg.MinCES = flags.minCES
	}
	if flags.minWeightedCES > 0 {
		cfg.MinWeightedCES = flags.minWeightedCES
	}
	if flags.topK > 0 {
		cfg.TopK = flags.topK
	}
	if flags.topPercent > 0 {
		cfg.TopPercent = flags.topPercent
	}
	if flags.halfLife > 0 {
		cfg.HalfLifeHours = flags.halfLife
	}
	if flags.noDecay {
		cfg.EnableTimeDecay = false
	}
	if flags.recencyDays > 0 {
		cfg.RecencyDays = flags.recencyDays
	}
	if len(flags.types) > 0 {
		cfg.AllowedTypes = flags.types
	}
	if len(flags.require) > 0 {
		cfg.RequiredKeywords = flags.require
	}
	if len(flags.exclude) > 0 {
		cfg.ExcludeKeywords = flags.exclude
	}
	return cfg
}

func buildAnalyzer(cfg *config.Config, log *logrus.Logger) (*analysis.Analyzer, error) {
	if !cfg.Workflows.Score.Configured() {
		return nil, fmt.Errorf("score workflow is not configured (set workflows.score.base_url and token)")
	}
	if !cfg.Workflows.Analysis.Configured() {
		return nil, fmt.Errorf("analysis workflow is not configured (set workflows.analysis.base_url and token)")
	}

	evaluator := workflow.New(workflow.Config{
		BaseURL:        cfg.Workflows.Score.BaseURL,
		Token:          cfg.Workflows.Score.Token,
		Path:           cfg.Workflows.Score.Path,
		ResponseMode:   cfg.Workflows.Score.ResponseMode,
		Timeout:        cfg.Workflows.Timeout(),
		Retries:        cfg.Workflows.Retries,
		MaxConcurrency: int64(cfg.Workflows.MaxConcurrency),
	}, log)

	contentAnalyzer := workflow.New(workflow.Config{
		BaseURL:        cfg.Workflows.Analysis.BaseURL,
		Token:          cfg.Workflows.Analysis.Token,
		Path:           cfg.Workflows.Analysis.Path,
		ResponseMode:   cfg.Workflows.Analysis.ResponseMode,
		Timeout:        cfg.Workflows.Timeout(),
		Retries:        cfg.Workflows.Retries,
		MaxConcurrency: int64(cfg.Workflows.MaxConcurrency),
	}, log)

	reporter := callback.New(cfg.Callback.URL, cfg.Callback.Secret)

	return analysis.New(evaluator, contentAnalyzer, reporter, analysis.Config{
		MinContentScore: cfg.Analysis.MinContentScore,
		MaxConcurrency:  cfg.Workflows.MaxConcurrency,
		HalfLifeHours:   cfg.CES.HalfLifeHours,
	}, log), nil
}

func loadItems(path, feedURL string) ([]ces.Item, error) {
	if feedURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		return ingest.NewFeedReader().Fetch(ctx, feedURL)
	}
	if path == "" {
		return nil, fmt.Errorf("pass an items file or --feed URL")
	}
	return ingest.ReadItemsFile(path)
}

func runScore(path, feedURL string, flags scoreFlags, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	items, err := loadItems(path, feedURL)
	if err != nil {
		return err
	}

	pipelineCfg := applyScoreFlags(cfg.CES, flags)
	ranked, err := ces.ScoreAndFilter(context.Background(), items, pipelineCfg)
	if err != nil {
		return fmt.Errorf("score items: %w", err)
	}
	ces.RankByEngagement(ranked)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ranked)
	}

	if len(ranked) == 0 {
		fmt.Println("no items passed the filters")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCES\tWEIGHTED\tNOTE\tTITLE")
	for _, e := range ranked {
		fmt.Fprintf(w, "%d\t%.1f\t%.1f\t%s\t%s\n",
			e.Rank, e.CES, e.WeightedCES, e.NoteID, e.Title)
	}
	return w.Flush()
}

func runAnalyze(path, taskID, keywords string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger()

	analyzer, err := buildAnalyzer(cfg, log)
	if err != nil {
		return err
	}

	items, err := ingest.ReadItemsFile(path)
	if err != nil {
		return err
	}
	if taskID == "" {
		taskID = uuid.NewString()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, results, err := analyzer.HandleTask(ctx, analysis.Task{
		TaskID:   taskID,
		Keywords: keywords,
		Items:    items,
	})
	if err != nil {
		return fmt.Errorf("run task %s: %w", taskID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"summary": summary,
		"results": results,
	})
}

func runServe(port int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return startDaemon(ctx, port, nil)
}

func runDaemon(port int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return startDaemon(ctx, port, func(srv *server.Server) {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	})
}

func startDaemon(ctx context.Context, port int, onStop func(*server.Server)) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger()

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	analyzer, err := buildAnalyzer(cfg, log)
	if err != nil {
		return err
	}

	pool := worker.New(db, analyzer, cfg.Analysis.Workers, cfg.Analysis.QueueSize, log)
	go func() {
		if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("worker pool stopped")
		}
	}()

	srv := server.New(db, pool, cfg.CES, port, log)
	if onStop != nil {
		go onStop(srv)
	}
	return srv.ListenAndServe()
}
