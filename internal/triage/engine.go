// ABOUTME: Triage engine deciding whether the assistant answers or the conversation escalates
// ABOUTME: Calls the language model, then looks for an explicit derivation or keyword evidence

package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/2389/prism-gateway/internal/areas"
	"github.com/2389/prism-gateway/internal/llm"
	"github.com/2389/prism-gateway/internal/store"
)

// Confidence levels attached to decisions
const (
	ConfidenceExplicit = 0.9
	ConfidenceFallback = 0.5
	ConfidenceNone     = 0.1
	keywordStep        = 0.2
	keywordCap         = 0.8
	minKeywordHits     = 2
)

const maxHistoryWindow = 10

// derivePattern matches the derivation directive, with or without the emoji,
// and captures the rest of its line.
var derivePattern = regexp.MustCompile(`(?i)(?:🔄[ \t]*)?derivar[ \t]*:[ \t]*([^\n]*)`)

// Lexicon lists the words whose presence in both an area's instructions and a
// reply counts as evidence for that area.
var Lexicon = []string{
	"declaracion", "renta", "impuesto", "contabilidad", "estados", "financieros",
	"legal", "juridico", "contrato", "empresa", "constitucion", "sociedad",
	"inversion", "financiero", "credito", "prestamo", "flujo", "caja",
	"tributario", "fiscal", "iva", "retencion", "planeacion",
}

// Store defines what the engine needs from storage
type Store interface {
	ListAreasForDerivation(ctx context.Context) ([]*store.Area, error)
	GetAssistantSettings(ctx context.Context) (*store.AssistantSettings, error)
	ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*store.Message, error)
}

// Config holds defaults used when no assistant settings are stored
type Config struct {
	BasePrompt     string
	Temperature    float64
	MaxTokens      int
	Model          string
	HistoryWindow  int
	AutoDerivation bool
}

// DefaultConfig returns the defaults the assistant ships with.
func DefaultConfig() Config {
	return Config{
		BasePrompt:     DefaultBasePrompt,
		Temperature:    0.7,
		MaxTokens:      300,
		HistoryWindow:  5,
		AutoDerivation: true,
	}
}

// Request is a client message to triage. Message must already be persisted.
type Request struct {
	ClientName string
	Message    *store.Message
}

// Decision is the outcome of triage
type Decision struct {
	ShouldRespond  bool
	ResponseText   string
	ShouldEscalate bool
	TargetArea     *store.Area
	Confidence     float64
	Reason         string
}

// Engine runs triage for incoming client messages
type Engine struct {
	store    Store
	provider llm.Provider
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates a triage engine. Zero fields in cfg take DefaultConfig values.
// Pass nil logger for default.
func NewEngine(s Store, provider llm.Provider, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if strings.TrimSpace(cfg.BasePrompt) == "" {
		cfg.BasePrompt = def.BasePrompt
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	cfg.HistoryWindow = clampWindow(cfg.HistoryWindow)

	return &Engine{
		store:    s,
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("component", "triage"),
	}
}

// Evaluate decides how to answer req. Provider and store failures are
// absorbed into the decision; Evaluate never fails.
func (e *Engine) Evaluate(ctx context.Context, req Request) Decision {
	log := e.logger.With("conversation_id", req.Message.ConversationID, "message_id", req.Message.ID)

	settings := e.settings(ctx)

	derivable, err := e.store.ListAreasForDerivation(ctx)
	if err != nil {
		log.Warn("loading areas failed, continuing without derivation targets", "error", err)
		derivable = nil
	}

	history := e.history(ctx, req.Message)

	prompt := llm.Prompt{
		System:       buildSystemPrompt(settings.SystemPrompt, req.ClientName, derivable),
		Conversation: buildConversation(history, req.Message.Content),
	}
	opts := llm.Options{
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
		Model:       settings.Model,
	}

	reply, err := e.provider.Generate(ctx, prompt, opts)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = &llm.ProviderError{Provider: "unknown", Err: llm.ErrEmptyResponse}
	}
	if err != nil {
		log.Error("assistant generation failed, using fallback", "error", err)
		return Decision{
			ShouldRespond:  true,
			ResponseText:   FallbackResponse,
			ShouldEscalate: true,
			Confidence:     ConfidenceFallback,
			Reason:         "assistant unavailable",
		}
	}

	decision := Decision{
		ResponseText: stripDirective(reply),
		Confidence:   ConfidenceNone,
		Reason:       "no derivation criteria met",
	}
	decision.ShouldRespond = decision.ResponseText != ""

	if !settings.AutoDerivation {
		decision.Reason = "automatic derivation disabled"
		return decision
	}

	if area := explicitTarget(reply, derivable); area != nil {
		decision.ShouldEscalate = true
		decision.TargetArea = area
		decision.Confidence = ConfidenceExplicit
		decision.Reason = "explicit derivation requested by the assistant"
		log.Info("explicit derivation", "area", area.Name)
		return decision
	}

	if area, hits := keywordTarget(reply, derivable); area != nil {
		decision.ShouldEscalate = true
		decision.TargetArea = area
		decision.Confidence = min(keywordCap, keywordStep*float64(hits))
		decision.Reason = fmt.Sprintf("%d area keywords in reply", hits)
		log.Info("keyword derivation", "area", area.Name, "hits", hits)
		return decision
	}

	return decision
}

// settings merges stored assistant settings over the configured defaults.
func (e *Engine) settings(ctx context.Context) store.AssistantSettings {
	out := store.AssistantSettings{
		SystemPrompt:   e.cfg.BasePrompt,
		Temperature:    e.cfg.Temperature,
		MaxTokens:      e.cfg.MaxTokens,
		Model:          e.cfg.Model,
		AutoDerivation: e.cfg.AutoDerivation,
	}

	stored, err := e.store.GetAssistantSettings(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("loading assistant settings failed, using defaults", "error", err)
		}
		return out
	}

	if strings.TrimSpace(stored.SystemPrompt) != "" {
		out.SystemPrompt = stored.SystemPrompt
	}
	if stored.Temperature > 0 {
		out.Temperature = stored.Temperature
	}
	if stored.MaxTokens > 0 {
		out.MaxTokens = stored.MaxTokens
	}
	if stored.Model != "" {
		out.Model = stored.Model
	}
	out.AutoDerivation = stored.AutoDerivation
	return out
}

// history returns up to HistoryWindow messages preceding current.
func (e *Engine) history(ctx context.Context, current *store.Message) []*store.Message {
	recent, err := e.store.ListRecentMessages(ctx, current.ConversationID, e.cfg.HistoryWindow+1)
	if err != nil {
		e.logger.Warn("loading history failed, continuing without context", "error", err)
		return nil
	}

	prior := make([]*store.Message, 0, len(recent))
	for _, msg := range recent {
		if msg.ID != current.ID {
			prior = append(prior, msg)
		}
	}
	if len(prior) > e.cfg.HistoryWindow {
		prior = prior[len(prior)-e.cfg.HistoryWindow:]
	}
	return prior
}

// explicitTarget returns the first area named after the derivation directive.
func explicitTarget(reply string, candidates []*store.Area) *store.Area {
	match := derivePattern.FindStringSubmatch(reply)
	if match == nil {
		return nil
	}
	tail := areas.Normalize(match[1])
	for _, a := range candidates {
		name := areas.Normalize(a.Name)
		if name != "" && strings.Contains(tail, name) {
			return a
		}
	}
	return nil
}

// keywordTarget returns the area whose instruction keywords appear most often
// in the reply, if it reaches minKeywordHits. Earlier areas win ties.
func keywordTarget(reply string, candidates []*store.Area) (*store.Area, int) {
	words := areas.Tokens(reply, areas.MinTokenLen)

	var (
		best     *store.Area
		bestHits int
	)
	for _, a := range candidates {
		instructions := areas.Tokens(a.Instructions, areas.MinTokenLen)
		hits := 0
		for _, kw := range Lexicon {
			if areas.HasWord(instructions, kw) && areas.HasWord(words, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = a, hits
		}
	}
	if bestHits < minKeywordHits {
		return nil, 0
	}
	return best, bestHits
}

// stripDirective removes derivation directives from the text shown to the client.
func stripDirective(reply string) string {
	cleaned := derivePattern.ReplaceAllString(reply, "")

	lines := strings.Split(cleaned, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func clampWindow(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxHistoryWindow {
		return maxHistoryWindow
	}
	return n
}
