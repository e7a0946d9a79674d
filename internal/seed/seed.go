// Package seed loads merchant fixtures (settings, catalog and menus) from
// YAML into the store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/concierge/internal/domain"
)

// Row is one catalog record in a fixture. An empty ID is generated from
// the row's position.
type Row struct {
	ID     string            `yaml:"id,omitempty"`
	Values map[string]string `yaml:"values" validate:"required"`
}

// Fixture is the on-disk shape of a merchant seed file.
type Fixture struct {
	Settings  *domain.MerchantSettings `yaml:"settings,omitempty"`
	Fields    []domain.Field           `yaml:"fields,omitempty"`
	Records   []Row                    `yaml:"records,omitempty" validate:"dive"`
	Templates []domain.Template        `yaml:"templates,omitempty" validate:"dive"`
}

// Writer is the store surface a fixture is applied through.
type Writer interface {
	PutField(ctx context.Context, owner string, f domain.Field) error
	PutRecord(ctx context.Context, owner string, rec domain.DynamicRecord) error
	ClearCatalog(ctx context.Context, owner string) error
	SaveTemplate(ctx context.Context, owner string, t domain.Template) (int64, error)
	SaveSettings(ctx context.Context, owner string, s domain.MerchantSettings) error
}

// Summary counts what Apply wrote.
type Summary struct {
	Settings  bool
	Fields    int
	Records   int
	Templates int
}

func (s Summary) String() string {
	return fmt.Sprintf("settings=%v fields=%d records=%d templates=%d", s.Settings, s.Fields, s.Records, s.Templates)
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

// LoadFile reads and validates a fixture.
func LoadFile(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, err
	}
	return Parse(data)
}

// Parse decodes and validates a fixture.
func Parse(data []byte) (Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return Fixture{}, fmt.Errorf("parsing fixture: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return Fixture{}, err
	}
	return fx, nil
}

// Validate checks struct tags, field names and template button trees.
func (fx Fixture) Validate() error {
	var errs []error

	if err := validate.Struct(fx); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q validation", trimNamespace(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	seen := make(map[string]bool, len(fx.Fields))
	for i, f := range fx.Fields {
		switch {
		case strings.TrimSpace(f.Name) == "":
			errs = append(errs, fmt.Errorf("fields[%d]: name is required", i))
		case seen[f.Name]:
			errs = append(errs, fmt.Errorf("fields[%d]: duplicate field %q", i, f.Name))
		}
		seen[f.Name] = true
		switch f.Type {
		case "", domain.FieldText, domain.FieldNumber, domain.FieldBoolean:
		default:
			errs = append(errs, fmt.Errorf("fields[%d]: unknown type %q", i, f.Type))
		}
	}
	if len(fx.Records) > 0 && len(fx.Fields) == 0 {
		errs = append(errs, errors.New("records need a fields list"))
	}
	for i, r := range fx.Records {
		for name := range r.Values {
			if !seen[name] {
				errs = append(errs, fmt.Errorf("records[%d]: unknown field %q", i, name))
			}
		}
	}

	for i, t := range fx.Templates {
		if err := t.ValidateTree(); err != nil {
			errs = append(errs, fmt.Errorf("templates[%d] %q: %w", i, t.Name, err))
		}
	}
	return errors.Join(errs...)
}

// trimNamespace turns "Fixture.templates[0].name" into "templates[0].name".
func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Apply writes fx for owner. With replace set, the owner's existing
// fields and records are removed first.
func Apply(ctx context.Context, w Writer, owner string, fx Fixture, replace bool) (Summary, error) {
	var sum Summary
	if owner == "" {
		return sum, errors.New("seed: owner is required")
	}

	if fx.Settings != nil {
		if err := w.SaveSettings(ctx, owner, *fx.Settings); err != nil {
			return sum, err
		}
		sum.Settings = true
	}

	if replace {
		if err := w.ClearCatalog(ctx, owner); err != nil {
			return sum, err
		}
	}

	fields := make([]domain.Field, len(fx.Fields))
	for i, f := range fx.Fields {
		if f.Position == 0 {
			f.Position = i
		}
		if f.Type == "" {
			f.Type = domain.FieldText
		}
		if err := w.PutField(ctx, owner, f); err != nil {
			return sum, err
		}
		fields[i] = f
		sum.Fields++
	}

	for i, r := range fx.Records {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("r%d", i+1)
		}
		if err := w.PutRecord(ctx, owner, domain.BuildRecord(id, i, fields, r.Values)); err != nil {
			return sum, err
		}
		sum.Records++
	}

	for i, t := range fx.Templates {
		if t.Position == 0 {
			t.Position = i
		}
		if _, err := w.SaveTemplate(ctx, owner, t); err != nil {
			return sum, fmt.Errorf("saving template %q: %w", t.Name, err)
		}
		sum.Templates++
	}
	return sum, nil
}
