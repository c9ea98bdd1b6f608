package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feldkamp/equimatch/internal/artifact"
	"github.com/feldkamp/equimatch/internal/config"
	"github.com/feldkamp/equimatch/internal/engine/catalog"
	"github.com/feldkamp/equimatch/internal/engine/embedder"
	"github.com/feldkamp/equimatch/internal/engine/fallback"
	"github.com/feldkamp/equimatch/internal/logging"
	"github.com/feldkamp/equimatch/internal/pipeline"
	"github.com/feldkamp/equimatch/internal/tabular"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "equimatch",
		Short: "Match equipment records against a reference catalog and find missing installations",
		Long: `equimatch collapses near-duplicate equipment records, assigns each
representative to a catalog heading, and mines the building database for
installations that are probably missing.

Stages persist their output to the artifact store, so they can be run
individually (group, classify, analyze, components, suggest) or all at
once (run).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (YAML); EQUIMATCH_* env vars override")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newGroupCmd(&cfgPath),
		newClassifyCmd(&cfgPath),
		newAnalyzeCmd(&cfgPath),
		newComponentsCmd(&cfgPath),
		newSuggestCmd(&cfgPath),
	)
	return root
}

// app bundles the components a command assembled. Fields the command did
// not ask for stay nil.
type app struct {
	cfg   config.Config
	log   *zap.Logger
	store *artifact.Store
	emb   embedder.Embedder
	pl    *pipeline.Pipeline
}

// appOptions selects which components to build.
type appOptions struct {
	embedder    bool
	catalogPath string // "" when the command needs no catalog
}

func newApp(cfgPath string, o appOptions) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	if err != nil {
		return nil, err
	}

	store, err := artifact.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: store}

	if o.embedder {
		a.emb, err = newEmbedder(cfg)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	var cat *catalog.Catalog
	var resolver *fallback.Resolver
	if o.catalogPath != "" {
		entries, err := tabular.LoadCatalog(o.catalogPath)
		if err != nil {
			a.close()
			return nil, err
		}
		cat = catalog.New(entries)
		if cfg.Service.Endpoint != "" {
			client := fallback.NewClient(cfg.Service.Endpoint, cfg.Service.APIKey,
				fallback.WithTimeout(cfg.Service.Timeout))
			resolver = fallback.NewResolver(client, cat, cfg.Service.MinInterval, cfg.Service.MaxAttempts, store, log)
		} else {
			log.Warn("no classification service configured, low-similarity records will stay unresolved")
		}
	}

	a.pl = pipeline.New(cfg, store, a.emb, cat, resolver, log)
	return a, nil
}

func newEmbedder(cfg config.Config) (embedder.Embedder, error) {
	inner, err := embedder.New(cfg.Embedder.ModelPath, cfg.Embedder.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("load embedding model: %w", err)
	}
	if cfg.Embedder.CacheDir == "" {
		return inner, nil
	}
	cached, err := embedder.NewCached(inner, cfg.Embedder.ModelPath, cfg.Embedder.CacheDir)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return cached, nil
}

func (a *app) close() {
	if a.emb != nil {
		a.emb.Close()
	}
	a.store.Close()
	a.log.Sync()
}
