package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vkoskela/listing-autofill/config"
	"github.com/vkoskela/listing-autofill/internal/analysis"
	"github.com/vkoskela/listing-autofill/internal/autofill"
	"github.com/vkoskela/listing-autofill/internal/confidence"
	"github.com/vkoskela/listing-autofill/internal/metrics"
	"github.com/vkoskela/listing-autofill/internal/queue"
	"github.com/vkoskela/listing-autofill/internal/server"
	"github.com/vkoskela/listing-autofill/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()
	cfg := config.FromEnv()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("dbPath", cfg.DBPath).Msg("failed to initialize store")
	}
	defer store.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("store initialized")

	if err := seedCatalog(store); err != nil {
		log.Warn().Err(err).Msg("failed to seed catalog")
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	calculator, err := confidence.NewCalculator(store, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize confidence calculator")
	}

	var remote *analysis.RemoteClient
	if cfg.VisionAPIURL != "" {
		remote = analysis.NewRemoteClient(analysis.RemoteClientOpts{
			BaseURL: cfg.VisionAPIURL,
			APIKey:  cfg.VisionAPIKey,
			Timeout: cfg.VisionTimeout,
		})
		log.Info().Str("baseURL", cfg.VisionAPIURL).Msg("remote vision provider enabled")
	} else {
		log.Info().Msg("remote vision provider disabled, using local fallback only")
	}

	deriver := analysis.NewDeriver(store, store)
	provider := analysis.NewCachedProvider(
		analysis.NewService(remote, deriver, calculator, collector),
		store,
		collector,
	)

	service := autofill.NewService(provider, calculator, store)
	worker := queue.NewService(store, service, collector, cfg.WorkerBatchSize)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(service, worker, store, registry).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

// seedCatalog installs a minimal category and price catalog on first run so
// the service produces sensible suggestions standalone. Real deployments
// replace this through the upstream catalog sync.
func seedCatalog(store *storage.SQLiteStore) error {
	existing, err := store.Categories()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	categories := []analysis.Category{
		{ID: 1, Name: "Phones & Accessories", Keywords: []string{"phone", "smartphone", "mobile phone", "phone case"}},
		{ID: 2, Name: "Computers", Keywords: []string{"laptop", "computer", "monitor", "keyboard", "mouse", "tablet"}},
		{ID: 3, Name: "Furniture", Keywords: []string{"sofa", "chair", "table", "desk", "shelf", "couch"}},
		{ID: 4, Name: "Sports & Outdoors", Keywords: []string{"bicycle", "skis", "skates", "tent", "helmet"}},
		{ID: 5, Name: "Home Electronics", Keywords: []string{"television", "speaker", "headphones", "camera", "game console"}},
		{ID: 6, Name: "Clothing", Keywords: []string{"jacket", "shoes", "shirt", "dress", "trousers"}},
	}
	averages := map[int64]float64{1: 250, 2: 400, 3: 120, 4: 180, 5: 200, 6: 40}

	for _, category := range categories {
		if err := store.UpsertCategory(category); err != nil {
			return err
		}
		avg := averages[category.ID]
		for condition := range analysis.ConditionMultipliers {
			stats := analysis.PriceStats{Avg: avg, Min: avg * 0.4, Max: avg * 1.8, SampleSize: 25}
			if err := store.UpsertPriceStats(category.ID, condition, stats); err != nil {
				return err
			}
		}
	}

	log.Info().Int("categories", len(categories)).Msg("seeded default catalog")
	return nil
}
