package handlers

import (
	"context"
	"errors"
	"fmt"

	"newsrec/internal/articles"
	"newsrec/internal/config"
	"newsrec/internal/feeds"
	"newsrec/internal/llm"
	"newsrec/internal/logger"
	"newsrec/internal/recommend"
	"newsrec/internal/store"
	"newsrec/internal/vectorstore"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg        *config.Config
	users      *store.Store
	collection vectorstore.Collection
	client     *llm.Client
	articles   *articles.Store
	engine     *recommend.Engine
	clicks     *recommend.ClickRecorder
}

// newApp opens the stores and builds the recommendation services from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	users, err := store.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open user store: %w", err)
	}
	a.users = users

	collection, err := openCollection(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.collection = collection

	gemini := cfg.AI.Gemini
	client, err := llm.NewClient(ctx, llm.Config{
		APIKey:              gemini.APIKey,
		Model:               gemini.Model,
		EmbeddingModel:      gemini.EmbeddingModel,
		EmbeddingDimensions: gemini.EmbeddingDimensions,
		Temperature:         gemini.Temperature,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client

	gatewayOpts := llm.DefaultGatewayOptions()
	gatewayOpts.Timeout = gemini.GeminiTimeout()
	gatewayOpts.MaxRetries = gemini.MaxRetries
	gateway := llm.NewGateway(client, gatewayOpts)
	embedder := llm.NewEmbeddingGateway(client, gatewayOpts)

	collector := feeds.NewCollector(cfg.Feeds.URLs, cfg.Feeds.UserAgent, cfg.Feeds.FetchTimeout())
	a.articles = articles.New(collection, embedder, collector, articles.Options{
		StalenessDays:  cfg.Feeds.StalenessDays,
		RefreshTTL:     cfg.Feeds.TTL(),
		RefreshTimeout: cfg.Feeds.CycleTimeout(),
	})

	r := cfg.Recommend
	a.engine = recommend.NewEngine(a.articles, users, gateway, recommend.Options{
		WindowDays:           r.WindowDays,
		PerTopicLimit:        r.PerTopicLimit,
		CandidateLimit:       r.CandidateLimit,
		RankedLimit:          r.RankedLimit,
		DiscoveryCount:       r.DiscoveryCount,
		DiscoveryExplanation: r.DiscoveryExplanation,
	})
	a.clicks = recommend.NewClickRecorder(users, nil)

	logger.Debug("Services ready",
		"backend", cfg.Store.Backend,
		"model", client.GetModelName(),
		"data_dir", cfg.App.DataDir,
		"feeds", len(cfg.Feeds.URLs))

	return a, nil
}

func openCollection(ctx context.Context, cfg *config.Config) (vectorstore.Collection, error) {
	switch cfg.Store.Backend {
	case "pgvector":
		c, err := vectorstore.OpenPgVector(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open pgvector collection: %w", err)
		}
		return c, nil
	case "sqlite", "":
		c, err := vectorstore.OpenSQLite(cfg.App.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite collection: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// Close releases every opened resource.
func (a *app) Close() {
	var errs []error
	if a.client != nil {
		a.client.Close()
	}
	if a.collection != nil {
		errs = append(errs, a.collection.Close())
	}
	if a.users != nil {
		errs = append(errs, a.users.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("Failed to close resources", err)
	}
}
