package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/lexrag/query-engine/internal/core/domain"
	"github.com/lexrag/query-engine/internal/core/ports"
)

// PromptVariant selects the system instructions for answer synthesis.
type PromptVariant string

const (
	PromptContent    PromptVariant = "content"
	PromptHybrid     PromptVariant = "hybrid"
	PromptComparison PromptVariant = "comparison"
	PromptSummary    PromptVariant = "summary"
)

const (
	synthesisTemperature    = 0.3
	defaultContextMaxChars  = 12000
	defaultCompletionTokens = 1024

	// Returned whenever the completion service fails or produces nothing.
	synthesisFallback = "No fue posible generar una respuesta en este momento. Por favor intente nuevamente."
)

var systemPrompts = map[PromptVariant]string{
	PromptContent: `Eres un asistente jurídico. Responde la pregunta del usuario usando únicamente el contexto legal proporcionado.
Cita los artículos o documentos en que te bases. Si el contexto es insuficiente, dilo directamente.`,
	PromptHybrid: `Eres un asistente jurídico. El contexto proviene de varias fuentes de búsqueda (semántica, metadatos, resúmenes).
Responde la pregunta integrando las fuentes y señala el origen de cada afirmación. Si el contexto es insuficiente, dilo directamente.`,
	PromptComparison: `Eres un asistente jurídico. Compara las disposiciones legales del contexto.
Estructura la respuesta en: similitudes, diferencias y conclusión. Cita cada disposición comparada.`,
	PromptSummary: `Eres un asistente jurídico. Resume el contenido legal del contexto en forma clara y fiel.
Incluye el propósito de la norma, sus puntos principales y su alcance.`,
}

// Synthesizer builds a context block from retrieved passages and asks the
// completion service for the final answer. It never returns an error: any
// failure degrades to a fixed fallback string, reported to the caller.
type Synthesizer struct {
	completion      ports.CompletionService
	contextMaxChars int
	maxTokens       int
}

func NewSynthesizer(completion ports.CompletionService, contextMaxChars, maxTokens int) *Synthesizer {
	if contextMaxChars <= 0 {
		contextMaxChars = defaultContextMaxChars
	}
	if maxTokens <= 0 {
		maxTokens = defaultCompletionTokens
	}
	return &Synthesizer{
		completion:      completion,
		contextMaxChars: contextMaxChars,
		maxTokens:       maxTokens,
	}
}

// Synthesize returns the answer and whether it was actually generated. A
// false return means the fixed fallback text: callers must treat that as a
// degraded response, not a confident answer.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, results []domain.SearchResult, variant PromptVariant) (string, bool) {
	contextBlock := buildContextBlock(results, s.contextMaxChars)

	systemPrompt, ok := systemPrompts[variant]
	if !ok {
		systemPrompt = systemPrompts[PromptContent]
	}

	userPrompt := fmt.Sprintf("Pregunta:\n%s\n\nContexto:\n%s", query, contextBlock)
	answer, err := s.completion.Complete(ctx, systemPrompt, userPrompt, synthesisTemperature, s.maxTokens)
	if err != nil {
		slog.Error("synthesis_failed", "variant", variant, "error", err)
		return synthesisFallback, false
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		slog.Warn("synthesis_empty", "variant", variant)
		return synthesisFallback, false
	}
	return answer, true
}

// buildContextBlock renders numbered passages and enforces the context size
// ceiling. The ceiling truncates context, never the query.
func buildContextBlock(results []domain.SearchResult, maxChars int) string {
	var b strings.Builder
	for i, r := range results {
		title := r.Metadata["title"]
		if title == "" {
			title = r.ID
		}
		entry := fmt.Sprintf("[%d] %s (fuente=%s)\n%s\n\n", i+1, title, r.SourceType, r.Content)
		if b.Len()+len(entry) > maxChars {
			remaining := maxChars - b.Len()
			// Never cut inside a multi-byte rune.
			for remaining > 0 && !utf8.RuneStart(entry[remaining]) {
				remaining--
			}
			if remaining > 0 {
				b.WriteString(entry[:remaining])
			}
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}
