// Package generator implements the four generation steps of the dataset
// pipeline: match, query generation, reasoning and structured parse. Each step
// is one executor call with its own prompt, few-shot exchange, temperature and
// reply schema.
package generator

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"text/template"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/ai/structured"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
	"github.com/teranos/ontogen/ontology"
	"github.com/teranos/ontogen/schema"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Step names used in logs, metrics and usage rows
const (
	StepMatch     = "match"
	StepQueries   = "queries"
	StepReasoning = "reasoning"
	StepParse     = "parse"
)

// Per-step sampling temperatures
const (
	TemperatureMatch     = 0.9
	TemperatureQueries   = 0.7
	TemperatureReasoning = 0.5
	TemperatureParse     = 0.6
)

// Config holds generation parameters shared by every step
type Config struct {
	MaxTokens     int
	Seed          int
	Strict        bool
	Candidates    int
	MinCategories int
}

// DefaultConfig returns the parameters used when none are configured
func DefaultConfig() Config {
	return Config{MaxTokens: 1500, Seed: 123, Strict: true, Candidates: 3, MinCategories: 4}
}

// Generator runs generation steps through a structured executor
type Generator struct {
	ex     *structured.Executor
	cfg    Config
	logger *zap.SugaredLogger

	matchPrompt     string
	queriesPrompt   string
	reasoningPrompt string
	parsePrompt     string
}

type catalogEntry struct {
	Label  string
	Values string
}

type promptData struct {
	Catalog       []catalogEntry
	Candidates    int
	MinCategories int
}

var categoryLabels = map[string]string{
	"attribute":                 "Attributes",
	"exposure":                  "Exposures",
	"asset_type":                "Asset Types",
	"sebi_classification":       "SEBI Classifications",
	"vehicle":                   "Vehicles",
	"objective":                 "Objectives",
	ontology.SecuritiesCategory: "Tickers",
}

// New renders the system prompts for listing and returns a Generator
func New(ex *structured.Executor, listing *ontology.Listing, cfg Config, log *zap.SugaredLogger) (*Generator, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = DefaultConfig().Candidates
	}
	if cfg.MinCategories <= 0 {
		cfg.MinCategories = DefaultConfig().MinCategories
	}

	data, err := newPromptData(listing, cfg)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("prompts").
		Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
		ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse prompt templates")
	}

	g := &Generator{ex: ex, cfg: cfg, logger: logger.OrNop(log)}
	for name, dst := range map[string]*string{
		"match.tmpl":     &g.matchPrompt,
		"queries.tmpl":   &g.queriesPrompt,
		"reasoning.tmpl": &g.reasoningPrompt,
		"parse.tmpl":     &g.parsePrompt,
	} {
		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
			return nil, errors.Wrapf(err, "failed to render %s", name)
		}
		*dst = buf.String()
	}
	return g, nil
}

func newPromptData(listing *ontology.Listing, cfg Config) (promptData, error) {
	data := promptData{Candidates: cfg.Candidates, MinCategories: cfg.MinCategories}
	if listing == nil {
		return data, nil
	}
	for _, c := range listing.Categories {
		values, err := schema.Canonical(listing.Paths(c.Name))
		if err != nil {
			return data, err
		}
		label, ok := categoryLabels[c.Name]
		if !ok {
			label = c.Name
		}
		data.Catalog = append(data.Catalog, catalogEntry{Label: label, Values: values})
	}
	return data, nil
}

func (g *Generator) request(step string, temperature float64, s structured.Schema, messages []structured.Message) structured.Request {
	return structured.Request{
		Step:        step,
		Messages:    messages,
		Schema:      s,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: temperature,
		Seed:        ptr(g.cfg.Seed),
		Strict:      g.cfg.Strict,
	}
}

func msg(role, content string) structured.Message {
	return structured.Message{Role: role, Content: content}
}

func matchInstruction(candidates int, path string) string {
	return fmt.Sprintf("Generate %d DIFFERENT matching ontology combinations for path: %s", candidates, path)
}

func queriesInstruction(combinations string) string {
	return fmt.Sprintf("Generate a user query for each of the ontology combinations below: %s", combinations)
}

func reasoningInstruction(query string) string {
	return fmt.Sprintf("Generate reasoning for this investment query: %s", query)
}

func parseInstruction(query, reasoning string) string {
	return fmt.Sprintf("Query: %s\nReasoning: %s", query, reasoning)
}

// Match asks for candidate ontology combinations around path. An empty
// result is returned as is; callers decide what no candidates means.
func (g *Generator) Match(ctx context.Context, path string) (*schema.Combinations, error) {
	g.logger.Debugw("Matching ontology combinations", logger.FieldPath, path)
	shot, err := fewShotMatch()
	if err != nil {
		return nil, err
	}
	req := g.request(StepMatch, TemperatureMatch,
		structured.Schema{Name: schema.NameCombinations, Document: schema.CombinationsDocument},
		[]structured.Message{
			msg(structured.RoleSystem, g.matchPrompt),
			msg(structured.RoleUser, matchInstruction(g.cfg.Candidates, fewShotMatchPath)),
			msg(structured.RoleAssistant, shot),
			msg(structured.RoleUser, matchInstruction(g.cfg.Candidates, path)),
		})

	combos, err := structured.Call(ctx, g.ex, req, structured.DecodeJSON[schema.Combinations])
	if err != nil {
		return nil, err
	}
	return &combos, nil
}

// Queries asks for one natural-language query per combination
func (g *Generator) Queries(ctx context.Context, combos *schema.Combinations) (*schema.UserQueries, error) {
	shotIn, shotOut, err := fewShotQueries()
	if err != nil {
		return nil, err
	}
	encoded, err := schema.Canonical(combos)
	if err != nil {
		return nil, err
	}
	req := g.request(StepQueries, TemperatureQueries,
		structured.Schema{Name: schema.NameUserQueries, Document: schema.UserQueriesDocument},
		[]structured.Message{
			msg(structured.RoleSystem, g.queriesPrompt),
			msg(structured.RoleUser, queriesInstruction(shotIn)),
			msg(structured.RoleAssistant, shotOut),
			msg(structured.RoleUser, queriesInstruction(encoded)),
		})

	queries, err := structured.Call(ctx, g.ex, req, structured.DecodeJSON[schema.UserQueries])
	if err != nil {
		return nil, err
	}
	return &queries, nil
}

// Reasoning asks for a short justification of query
func (g *Generator) Reasoning(ctx context.Context, query string) (string, error) {
	messages := []structured.Message{msg(structured.RoleSystem, g.reasoningPrompt)}
	for _, shot := range fewShotReasoning {
		answer, err := schema.Canonical(schema.Reasoning{Reasoning: shot.reasoning})
		if err != nil {
			return "", err
		}
		messages = append(messages,
			msg(structured.RoleUser, reasoningInstruction(shot.query)),
			msg(structured.RoleAssistant, answer))
	}
	messages = append(messages, msg(structured.RoleUser, reasoningInstruction(query)))

	req := g.request(StepReasoning, TemperatureReasoning,
		structured.Schema{Name: schema.NameReasoning, Document: schema.ReasoningDocument},
		messages)

	r, err := structured.Call(ctx, g.ex, req, structured.DecodeJSON[schema.Reasoning])
	if err != nil {
		return "", err
	}
	return r.Reasoning, nil
}

// Parse asks for the structured interpretation of query given its reasoning
func (g *Generator) Parse(ctx context.Context, query, reasoning string) (*schema.ParsedOutputReasoned, error) {
	req := g.request(StepParse, TemperatureParse,
		structured.Schema{Name: schema.NameParsedOutputReasoned, Document: schema.ParsedOutputReasonedDocument},
		[]structured.Message{
			msg(structured.RoleSystem, g.parsePrompt),
			msg(structured.RoleUser, parseInstruction(query, reasoning)),
		})

	parsed, err := structured.Call(ctx, g.ex, req, structured.DecodeJSON[schema.ParsedOutputReasoned])
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
