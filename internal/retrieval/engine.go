// Package retrieval answers customer questions from a merchant's catalog
// before falling back to generation.
package retrieval

import (
	"context"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/intent"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/textnorm"
)

// Stage names the pipeline stage that produced a Result.
type Stage string

const (
	StageSmallTalk Stage = "small_talk"
	StageFuzzy     Stage = "fuzzy"
	StageDirect    Stage = "direct"
	StageGenerate  Stage = "generate"
)

// Result is the outcome of SearchOrAnswer. A StageGenerate result carries
// grounding records and no text.
type Result struct {
	Stage   Stage
	Source  domain.SourceTag
	Text    string
	Records []domain.DynamicRecord
	Intent  intent.Intent
}

// CatalogSource loads a merchant's catalog.
type CatalogSource interface {
	Catalog(ctx context.Context, owner string) (domain.Catalog, error)
}

// Config tunes matching. Zero values take defaults.
type Config struct {
	FuzzyThreshold float64
	TopK           int
	GroundingLimit int
}

// Engine runs the retrieval stages.
type Engine struct {
	catalogs  CatalogSource
	threshold float64
	topK      int
	limit     int
	log       *logging.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(catalogs CatalogSource, cfg Config, log *logging.Logger) *Engine {
	e := &Engine{
		catalogs:  catalogs,
		threshold: config.ClampThreshold(cfg.FuzzyThreshold),
		topK:      cfg.TopK,
		limit:     cfg.GroundingLimit,
		log:       log.Sub("retrieval"),
	}
	if e.topK <= 0 {
		e.topK = 3
	}
	if e.limit <= 0 {
		e.limit = 12
	}
	return e
}

// SearchOrAnswer runs small talk, fuzzy match, intent-scoped answer and
// grounding selection in order. The first stage that answers wins.
func (e *Engine) SearchOrAnswer(ctx context.Context, owner, query string, cc domain.ConversationContext, s domain.MerchantSettings) (Result, error) {
	norm := textnorm.Normalize(query)
	if norm == "" {
		return Result{Stage: StageGenerate, Intent: intent.Unknown}, nil
	}
	ar := replyArabic(s, query)

	if kind, ok := matchSmallTalk(query); ok {
		return Result{
			Stage:  StageSmallTalk,
			Source: domain.SourceSmallTalk,
			Text:   smallTalkReply(kind, query, cc, s),
		}, nil
	}

	cat, err := e.catalogs.Catalog(ctx, owner)
	if err != nil {
		e.log.Warn().Err(err).Str("owner", owner).Msg("catalog unavailable, answering without it")
		cat = domain.Catalog{}
	}

	cls := intent.Classify(query)
	if cat.Empty() {
		return Result{Stage: StageGenerate, Intent: cls}, nil
	}

	index := buildIndex(cat.Records)
	tokens := textnorm.Tokens(query)

	if !cls.FieldScoped() && len(tokens) > 0 {
		if matches := search(index, tokens, norm, e.threshold, e.topK); len(matches) > 0 {
			e.log.Debug().Str("owner", owner).Float64("score", matches[0].Score).Int("matches", len(matches)).Msg("fuzzy match")
			return Result{
				Stage:   StageFuzzy,
				Source:  domain.SourceFuzzy,
				Text:    fuzzyAnswer(matches, ar),
				Records: records(matches),
				Intent:  cls,
			}, nil
		}
	}

	if res, ok := e.direct(cls, query, cat, index, ar); ok {
		e.log.Debug().Str("owner", owner).Str("intent", string(cls)).Msg("direct answer")
		return res, nil
	}

	return Result{
		Stage:   StageGenerate,
		Records: rankByOverlap(index, tokens, e.limit),
		Intent:  cls,
	}, nil
}

func (e *Engine) direct(cls intent.Intent, query string, cat domain.Catalog, index []indexed, ar bool) (Result, bool) {
	var text string
	var recs []domain.DynamicRecord

	switch cls {
	case intent.Inventory:
		text = inventoryAnswer(cat.Records, ar)
		recs = cat.Records
	case intent.Price, intent.Description, intent.Availability:
		rec, ok := e.resolve(cat, index, query)
		if !ok {
			return Result{}, false
		}
		text = fieldAnswer(rec, attrFor(cls), ar)
		recs = []domain.DynamicRecord{rec}
	default:
		return Result{}, false
	}
	return Result{Stage: StageDirect, Source: domain.SourceDirect, Text: text, Records: recs, Intent: cls}, true
}

// resolve finds the one record a field-scoped question is about.
func (e *Engine) resolve(cat domain.Catalog, index []indexed, query string) (domain.DynamicRecord, bool) {
	if len(cat.Records) == 1 {
		return cat.Records[0], true
	}
	tokens := intent.StripKeywords(query)
	if len(tokens) == 0 {
		return domain.DynamicRecord{}, false
	}
	matches := search(index, tokens, "", e.threshold, 1)
	if len(matches) == 0 {
		return domain.DynamicRecord{}, false
	}
	return matches[0].Record, true
}

func attrFor(cls intent.Intent) attr {
	switch cls {
	case intent.Price:
		return attrPrice
	case intent.Description:
		return attrDescription
	default:
		return attrStock
	}
}

func records(matches []Match) []domain.DynamicRecord {
	out := make([]domain.DynamicRecord, len(matches))
	for i, m := range matches {
		out[i] = m.Record
	}
	return out
}
