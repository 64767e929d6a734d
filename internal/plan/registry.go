// Package plan holds the closed set of document styles and the ordered
// section plans they expand to.
package plan

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/recapbook/api/internal/model"
)

//go:embed plans/*.yaml
var planFiles embed.FS

// DefaultStyle is used whenever a caller asks for a style that does not exist.
const DefaultStyle = model.StyleClassic

// Plan is the ordered list of sections generated for one style.
type Plan struct {
	Style      model.StyleID       `yaml:"style" validate:"required"`
	MediaCount int                 `yaml:"media_count" validate:"min=1,max=64"`
	Title      string              `yaml:"title" validate:"required"`
	Closing    string              `yaml:"closing" validate:"required"`
	Sections   []model.SectionSpec `yaml:"sections" validate:"required,min=1,dive"`
}

// Registry maps every known StyleID to its plan. It is built once at startup
// and read-only afterwards.
type Registry struct {
	plans map[model.StyleID]Plan
}

// NewRegistry loads the embedded plan definitions.
func NewRegistry() (*Registry, error) {
	return LoadRegistry(planFiles, "plans")
}

// LoadRegistry reads every *.yaml file under dir, validates it and requires
// the default style to be present.
func LoadRegistry(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan directory: %w", err)
	}

	validate := validator.New()
	r := &Registry{plans: make(map[model.StyleID]Plan)}

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read plan %s: %w", entry.Name(), err)
		}

		var p Plan
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse plan %s: %w", entry.Name(), err)
		}
		if err := checkPlan(validate, &p); err != nil {
			return nil, fmt.Errorf("invalid plan %s: %w", entry.Name(), err)
		}
		if _, dup := r.plans[p.Style]; dup {
			return nil, fmt.Errorf("duplicate plan for style %q", p.Style)
		}
		r.plans[p.Style] = p
	}

	if _, ok := r.plans[DefaultStyle]; !ok {
		return nil, fmt.Errorf("default style %q has no plan", DefaultStyle)
	}
	return r, nil
}

func checkPlan(validate *validator.Validate, p *Plan) error {
	if err := validate.Struct(p); err != nil {
		return err
	}

	seen := make(map[string]bool, len(p.Sections))
	for i := range p.Sections {
		s := &p.Sections[i]
		if seen[s.ID] {
			return fmt.Errorf("duplicate section id %q", s.ID)
		}
		seen[s.ID] = true

		s.Fallback = strings.TrimSpace(s.Fallback)
		if s.Fallback == "" {
			return fmt.Errorf("section %q has blank fallback text", s.ID)
		}
		if _, err := parse(s.ID, s.Prompt); err != nil {
			return err
		}
	}
	if _, err := parse("title", p.Title); err != nil {
		return err
	}
	if _, err := parse("closing", p.Closing); err != nil {
		return err
	}
	return nil
}

// Resolve maps a requested style onto a known one.
func (r *Registry) Resolve(style model.StyleID) model.StyleID {
	style = model.StyleID(strings.ToLower(strings.TrimSpace(string(style))))
	if _, ok := r.plans[style]; ok {
		return style
	}
	return DefaultStyle
}

// Plan returns the plan for style, or the default plan for unknown styles.
func (r *Registry) Plan(style model.StyleID) Plan {
	p := r.plans[r.Resolve(style)]
	sections := make([]model.SectionSpec, len(p.Sections))
	copy(sections, p.Sections)
	p.Sections = sections
	return p
}

// Styles lists the registered styles.
func (r *Registry) Styles() []model.StyleID {
	out := make([]model.StyleID, 0, len(r.plans))
	for _, s := range model.ValidStyles {
		if _, ok := r.plans[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", name, err)
	}
	return t, nil
}

// Render executes a plan template against pc.
func Render(text string, pc PromptContext) (string, error) {
	t, err := parse("render", text)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, pc); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
