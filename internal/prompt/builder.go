// Package prompt composes the patient prompt sent to the generation
// service from a character sheet, the session's dialogue state and its
// recent history. The result is an opaque string to the dialogue engine.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"patientsim/internal/logging"
	"patientsim/internal/types"
)

//go:embed patient.tmpl
var defaultTemplate string

//go:embed contexts.yaml
var defaultContexts []byte

// Character is the patient sheet loaded from configuration.
type Character struct {
	Name      string            `yaml:"name" json:"name"`
	Persona   string            `yaml:"persona" json:"persona"`
	Backstory string            `yaml:"backstory" json:"backstory"`
	Goal      string            `yaml:"goal" json:"goal"`
	Details   map[string]string `yaml:"details,omitempty" json:"details,omitempty"`
}

// ContextHint maps a dialogue situation to caregiver keywords.
type ContextHint struct {
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
}

// ContextTable is the ordered situation list plus the fallback label.
type ContextTable struct {
	Contexts []ContextHint `yaml:"contexts"`
	Default  string        `yaml:"default"`
}

// Request carries the per-turn inputs.
type Request struct {
	Character Character
	State     types.DialogueState
	Input     string
	History   []types.Utterance
}

// Options configures a Builder. Empty fields use the embedded defaults.
type Options struct {
	TemplatePath string
	ContextsPath string
	MaxResponses int
}

// Builder renders patient prompts. It is safe for concurrent use.
type Builder struct {
	tmpl         *template.Template
	contexts     ContextTable
	maxResponses int
}

type detail struct {
	Key   string
	Value string
}

type view struct {
	Character    Character
	Details      []detail
	State        types.DialogueState
	Context      string
	Contexts     []string
	History      []string
	Input        string
	MaxResponses int
}

// NewBuilder parses the template and context table.
func NewBuilder(opts Options) (*Builder, error) {
	text := defaultTemplate
	if opts.TemplatePath != "" {
		data, err := os.ReadFile(opts.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt template: %w", err)
		}
		text = string(data)
	}
	tmpl, err := template.New("patient").Funcs(template.FuncMap{"join": strings.Join}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	raw := defaultContexts
	if opts.ContextsPath != "" {
		raw, err = os.ReadFile(opts.ContextsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read context table: %w", err)
		}
	}
	var table ContextTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("failed to parse context table: %w", err)
	}
	if table.Default == "" {
		table.Default = "general_conversation"
	}

	maxResponses := opts.MaxResponses
	if maxResponses <= 0 || maxResponses > types.MaxResponses {
		maxResponses = types.MaxResponses
	}
	return &Builder{tmpl: tmpl, contexts: table, maxResponses: maxResponses}, nil
}

// DetectContext returns the situation whose keywords best match the
// caregiver input. Ties go to the earlier entry.
func (b *Builder) DetectContext(input string) string {
	lower := strings.ToLower(input)
	best, bestHits := b.contexts.Default, 0
	for _, hint := range b.contexts.Contexts {
		hits := 0
		for _, kw := range hint.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = hint.Label, hits
		}
	}
	return best
}

// Labels lists the known situations in table order.
func (b *Builder) Labels() []string {
	out := make([]string, 0, len(b.contexts.Contexts))
	for _, hint := range b.contexts.Contexts {
		out = append(out, hint.Label)
	}
	return out
}

// Build renders the prompt for one turn.
func (b *Builder) Build(req Request) (string, error) {
	v := view{
		Character:    req.Character,
		State:        req.State,
		Context:      b.DetectContext(req.Input),
		Contexts:     b.Labels(),
		Input:        strings.TrimSpace(req.Input),
		MaxResponses: b.maxResponses,
	}
	if v.State == "" {
		v.State = types.DefaultState
	}
	for _, u := range req.History {
		v.History = append(v.History, u.String())
	}
	keys := make([]string, 0, len(req.Character.Details))
	for k := range req.Character.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Details = append(v.Details, detail{Key: k, Value: req.Character.Details[k]})
	}

	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, v); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	logging.SessionDebug("prompt built: context=%s history=%d len=%d", v.Context, len(v.History), sb.Len())
	return sb.String(), nil
}
