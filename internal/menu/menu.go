// Package menu matches keyword-triggered menus and resolves numbered
// selections against what the customer was last shown.
package menu

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/textnorm"
)

// DefaultTTL is how long a rendered menu stays selectable.
const DefaultTTL = 30 * time.Minute

// TemplateSource lists a merchant's active menus.
type TemplateSource interface {
	ListActiveTemplates(ctx context.Context, owner string) ([]domain.Template, error)
}

// Rendered is a menu message ready to send.
type Rendered struct {
	TemplateID int64
	Text       string
	ButtonIDs  []int64
}

// Action is the outcome of choosing a numbered option.
type Action struct {
	TemplateID int64
	Button     domain.Button
	Text       string
	// Nested is set when Text is a submenu that is now the current rendering.
	Nested bool
}

type rendering struct {
	owner      string
	channel    domain.ChannelKind
	templateID int64
	buttons    []int64
	at         time.Time
}

// Engine renders menus and tracks the most recent rendering per conversation.
type Engine struct {
	src TemplateSource
	ttl time.Duration
	now func() time.Time
	log *logging.Logger

	mu      sync.Mutex
	current map[string]rendering
}

// NewEngine creates a menu engine.
func NewEngine(src TemplateSource, ttl time.Duration, log *logging.Logger) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		log:     log.Sub("menu"),
		current: make(map[string]rendering),
	}
}

// SetClock replaces time.Now, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// CheckTrigger renders the first active template with a trigger keyword
// contained in text. suppressGreeting drops the header.
func (e *Engine) CheckTrigger(ctx context.Context, key domain.ConversationKey, text string, suppressGreeting bool) (Rendered, bool) {
	norm := textnorm.Normalize(text)
	if norm == "" {
		return Rendered{}, false
	}
	templates := e.templates(ctx, key.Owner)
	for _, t := range templates {
		if !matches(t, norm) {
			continue
		}
		roots := t.Roots()
		header := t.Header
		if suppressGreeting {
			header = ""
		}
		r := Rendered{
			TemplateID: t.ID,
			Text:       compose(header, t.Body, numbered(roots), t.Footer),
			ButtonIDs:  ids(roots),
		}
		e.remember(key, t.ID, r.ButtonIDs)
		e.log.Debug().Str("conversation", key.String()).Str("template", t.Name).Msg("menu triggered")
		return r, true
	}
	return Rendered{}, false
}

// ResolveSelection maps a 1-based option number to an action. It uses the
// conversation's most recent rendering, or the first template with enough
// root buttons when nothing was rendered.
func (e *Engine) ResolveSelection(ctx context.Context, key domain.ConversationKey, n int) (Action, bool) {
	if n < 1 {
		return Action{}, false
	}
	templates := e.templates(ctx, key.Owner)

	if r, ok := e.lookup(key); ok {
		if n > len(r.buttons) {
			return Action{}, false
		}
		for _, t := range templates {
			if t.ID != r.templateID {
				continue
			}
			b, ok := t.Button(r.buttons[n-1])
			if !ok {
				return Action{}, false
			}
			return e.act(key, t, b), true
		}
		return Action{}, false
	}

	for _, t := range templates {
		roots := t.Roots()
		if len(roots) >= n {
			return e.act(key, t, roots[n-1]), true
		}
	}
	return Action{}, false
}

// InvalidateChannel forgets a merchant's renderings on one channel only.
func (e *Engine) InvalidateChannel(owner string, kind domain.ChannelKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, r := range e.current {
		if r.owner == owner && r.channel == kind {
			delete(e.current, k)
		}
	}
}

// Sweep drops renderings older than maxAge or the selection TTL.
func (e *Engine) Sweep(maxAge time.Duration) int {
	limit := e.ttl
	if maxAge > 0 && maxAge < limit {
		limit = maxAge
	}
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for k, r := range e.current {
		if now.Sub(r.at) >= limit {
			delete(e.current, k)
			n++
		}
	}
	return n
}

func (e *Engine) act(key domain.ConversationKey, t domain.Template, b domain.Button) Action {
	a := Action{TemplateID: t.ID, Button: b}
	switch b.Type {
	case domain.ButtonURL, domain.ButtonPhoneNumber:
		a.Text = firstNonEmpty(b.Payload, b.Text)
	case domain.ButtonNested:
		children := t.Children(b.ID)
		if len(children) == 0 || t.Depth(b.ID) >= domain.MaxButtonDepth {
			a.Text = firstNonEmpty(b.Payload, b.Text)
			break
		}
		a.Text = compose(b.Text, numbered(children))
		a.Nested = true
		e.remember(key, t.ID, ids(children))
	default:
		a.Text = firstNonEmpty(b.Payload, b.Text)
	}
	return a
}

func (e *Engine) templates(ctx context.Context, owner string) []domain.Template {
	list, err := e.src.ListActiveTemplates(ctx, owner)
	if err != nil {
		e.log.Warn().Err(err).Str("owner", owner).Msg("loading templates failed")
		return nil
	}
	sorted := make([]domain.Template, 0, len(list))
	for _, t := range list {
		if t.Active {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

func (e *Engine) remember(key domain.ConversationKey, templateID int64, buttons []int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current[key.String()] = rendering{owner: key.Owner, channel: key.Channel, templateID: templateID, buttons: buttons, at: e.now()}
}

func (e *Engine) lookup(key domain.ConversationKey) (rendering, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.current[key.String()]
	if !ok {
		return rendering{}, false
	}
	if e.now().Sub(r.at) >= e.ttl {
		delete(e.current, key.String())
		return rendering{}, false
	}
	return r, true
}

func matches(t domain.Template, norm string) bool {
	for _, trig := range t.Triggers {
		tn := textnorm.Normalize(trig)
		if tn != "" && strings.Contains(norm, tn) {
			return true
		}
	}
	return false
}

func numbered(buttons []domain.Button) string {
	lines := make([]string, 0, len(buttons))
	for i, b := range buttons {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, b.Text))
	}
	return strings.Join(lines, "\n")
}

func ids(buttons []domain.Button) []int64 {
	out := make([]int64, len(buttons))
	for i, b := range buttons {
		out[i] = b.ID
	}
	return out
}

func compose(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
