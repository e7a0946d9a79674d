package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				issues = append(issues, ValidationIssue{
					Path:    issuePath(fe.Namespace()),
					Message: describe(fe),
				})
			}
		} else {
			issues = append(issues, ValidationIssue{Path: "", Message: err.Error()})
		}
	}

	e := cfg.Engine
	if e.ReplyDelayMax < e.ReplyDelayMin {
		issues = append(issues, ValidationIssue{
			Path:    "engine.replyDelayMax",
			Message: fmt.Sprintf("must be >= replyDelayMin (%s), got %s", e.ReplyDelayMin, e.ReplyDelayMax),
		})
	}
	// a conversation lock is renewed while its reply is computed, up to
	// lockMaxHold; it must cover one provider call plus the reply delay
	if floor := cfg.LLM.Timeout + e.ReplyDelayMax; e.LockMaxHold > 0 && e.LockMaxHold < floor {
		issues = append(issues, ValidationIssue{
			Path:    "engine.lockMaxHold",
			Message: fmt.Sprintf("must be >= llm.timeout + replyDelayMax (%s), got %s", floor, e.LockMaxHold),
		})
	}
	if e.FuzzyThreshold != 0 && (e.FuzzyThreshold < 0.2 || e.FuzzyThreshold > 0.8) {
		issues = append(issues, ValidationIssue{
			Path:    "engine.fuzzyThreshold",
			Message: fmt.Sprintf("must be within 0.2-0.8, got %.2f", e.FuzzyThreshold),
		})
	}

	if cfg.Catalog.Source == "postgres" && cfg.Catalog.PostgresDSN == "" {
		issues = append(issues, ValidationIssue{
			Path:    "catalog.postgresDSN",
			Message: "required when catalog.source is postgres",
		})
	}

	if cfg.Channels.IRC != nil && cfg.Channels.IRC.SASL && cfg.Channels.IRC.Password == "" {
		issues = append(issues, ValidationIssue{
			Path:    "channels.irc.sasl",
			Message: "SASL requires a password to be set",
		})
	}

	for name, p := range cfg.LLM.Providers {
		if p.API != "ollama" && p.APIKey == "" {
			issues = append(issues, ValidationIssue{
				Path:    "llm.providers." + name + ".apiKey",
				Message: "required (except for ollama)",
			})
		}
	}
	for _, name := range cfg.LLM.DefaultProviders {
		if _, ok := cfg.LLM.Providers[name]; !ok {
			issues = append(issues, ValidationIssue{
				Path:    "llm.defaultProviders",
				Message: fmt.Sprintf("unknown provider %q", name),
			})
		}
	}

	slices.SortStableFunc(issues, func(a, b ValidationIssue) int {
		return strings.Compare(a.Path, b.Path)
	})
	return issues
}

// issuePath turns "Config.gateway.port" into "gateway.port" and map keys
// like "providers[openai]" into "providers.openai".
func issuePath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	ns = strings.ReplaceAll(ns, "[", ".")
	return strings.ReplaceAll(ns, "]", "")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "min":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("must be <= %s, got %v", fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("must be a URL, got %q", fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
