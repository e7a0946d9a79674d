package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/concierge/internal/catalog"
	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/convlock"
	"github.com/soyeahso/concierge/internal/dispatch"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/housekeeping"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/memory"
	"github.com/soyeahso/concierge/internal/menu"
	"github.com/soyeahso/concierge/internal/retrieval"
	"github.com/soyeahso/concierge/internal/store"
	"github.com/soyeahso/concierge/internal/synth"
)

// engine holds the reply pipeline's components, shared by serve and ask.
type engine struct {
	cfg       config.Config
	db        *store.DB
	pg        *catalog.PostgresSource
	catalog   *catalog.Cache
	memory    *memory.Store
	menus     *menu.Engine
	retrieval *retrieval.Engine
	llm       *llm.Registry
	synth     *synth.Synthesizer
	locks     *convlock.Locks
	hooks     *hooks.Manager
	log       *logging.Logger
}

func openEngine(ctx context.Context, cfg config.Config, dbPath string, hm *hooks.Manager, log *logging.Logger) (*engine, error) {
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	e := &engine{cfg: cfg, db: db, hooks: hm, log: log}

	var records catalog.RecordSource = db
	if cfg.Catalog.Source == "postgres" {
		e.pg, err = catalog.OpenPostgres(ctx, cfg.Catalog.PostgresDSN, log)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("opening catalog database: %w", err)
		}
		records = e.pg
	}

	ec := cfg.Engine
	e.catalog = catalog.NewCache(records, db, db, cfg.Catalog.CacheTTL, log)
	e.memory = memory.New(db, memory.Config{
		HistoryWindow:   ec.HistoryWindow,
		SessionWindow:   ec.SessionWindow,
		ContextCacheTTL: ec.ContextCacheTTL,
	}, log)
	e.menus = menu.NewEngine(e.catalog, ec.MenuTTL, log)
	e.retrieval = retrieval.NewEngine(e.catalog, retrieval.Config{
		FuzzyThreshold: ec.FuzzyThreshold,
		TopK:           ec.TopK,
		GroundingLimit: ec.GroundingLimit,
	}, log)
	e.llm = llm.NewRegistryFromConfig(cfg.LLM, log)
	e.synth = synth.New(e.llm, synth.Config{
		DefaultProviders: cfg.LLM.DefaultProviders,
		Timeout:          cfg.LLM.Timeout,
	}, log)
	e.locks = convlock.New(ec.LockTTL, ec.MinSpacing, convlock.WithMaxHold(ec.LockMaxHold))

	log.Info().
		Str("db", dbPath).
		Str("catalog", cfg.Catalog.Source).
		Strs("providers", e.llm.List()).
		Msg("engine ready")
	return e, nil
}

// dispatcher builds the pipeline sending through sender. Without delays
// replies go out at once.
func (e *engine) dispatcher(sender dispatch.Sender, delays bool) *dispatch.Dispatcher {
	cfg := dispatch.Config{HistoryWindow: e.cfg.Engine.HistoryWindow}
	if delays {
		cfg.ReplyDelayMin = e.cfg.Engine.ReplyDelayMin
		cfg.ReplyDelayMax = e.cfg.Engine.ReplyDelayMax
	}
	return dispatch.New(dispatch.Deps{
		Locks:     e.locks,
		Settings:  e.catalog,
		Memory:    e.memory,
		Menus:     e.menus,
		Retrieval: e.retrieval,
		Synth:     e.synth,
		Sender:    sender,
		Hooks:     e.hooks,
	}, cfg, e.log)
}

// purge runs when a session ends. Catalog and context caches are per
// owner; pending menu selections on the owner's other channels survive.
func (e *engine) purge(key domain.SessionKey) {
	e.memory.InvalidateOwner(key.Owner)
	e.catalog.InvalidateOwner(key.Owner)
	e.menus.InvalidateChannel(key.Owner, key.Channel)
	e.log.Debug().Str("session", key.String()).Msg("session caches purged")
}

// sweeps registers the periodic cleanup of every in-memory table.
func (e *engine) sweeps(s *housekeeping.Scheduler) {
	maxAge := e.cfg.Engine.EntryMaxAge
	s.Add("locks", func() int { return e.locks.Sweep(maxAge) })
	s.Add("contexts", e.memory.Sweep)
	s.Add("catalog", e.catalog.Sweep)
	s.Add("menus", func() int { return e.menus.Sweep(e.cfg.Engine.MenuTTL) })
}

func (e *engine) Close() error {
	var errs []error
	if e.pg != nil {
		errs = append(errs, e.pg.Close())
	}
	errs = append(errs, e.db.Close())
	return errors.Join(errs...)
}
