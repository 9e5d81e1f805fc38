// Package agent composes grounded answers. It retrieves the document chunks
// a caller is allowed to see, frames them as model context, and maps the
// response back to citations so every claim can be traced to a source.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/docser/docser/internal/search"
	"github.com/docser/docser/models"
	"github.com/docser/docser/provider"
)

const systemPrompt = `You are a document question answering assistant. Your purpose is to answer questions about documents stored in the organization's knowledge base.

RULES:
1. ONLY answer questions using information found in the provided documents.
2. If the search results do not contain relevant information to answer the question, respond with: "I couldn't find relevant information in the available documents to answer your question."
3. NEVER make up information. Every claim must be grounded in document content.
4. Always cite your sources by referencing the document title and location.
5. If asked about topics unrelated to the organization's documents (weather, general knowledge, personal opinions, etc.), respond with: "I can only answer questions about documents in the organization's knowledge base. Please ask a question related to your organization's documents."
6. Be concise and direct in your answers.
7. When multiple documents contain relevant information, synthesize the answer and cite all relevant sources.`

// excerptLimit caps citation excerpts so stored conversations stay small.
const excerptLimit = 500

// refusalPhrases mark a response as declining to answer. Matched as
// case-insensitive substrings so paraphrased refusals are still caught.
var refusalPhrases = []string{
	"i can only answer questions about documents",
	"i couldn't find relevant information",
	"not able to answer",
	"cannot answer",
	"outside my scope",
}

// Answer is a grounded response together with the citations that informed it.
type Answer struct {
	Content string
	Sources []models.SourceReference
	Refused bool
}

// Agent answers questions using retrieved document content only.
type Agent struct {
	llm     provider.Provider
	backend search.Backend
	top     int
	logger  *zap.Logger
}

func New(llm provider.Provider, backend search.Backend, top int, logger *zap.Logger) *Agent {
	return &Agent{llm: llm, backend: backend, top: top, logger: logger}
}

// Answer retrieves chunks visible to the principal, asks the model to answer
// from them, and returns the response with one citation per retrieved chunk.
// Zero retrieved chunks is not an error: the model is told nothing matched
// and declines, which refusal detection then records.
func (a *Agent) Answer(ctx context.Context, question string, principal models.Principal, history []models.Message) (Answer, error) {
	chunks, err := a.backend.Search(ctx, question, principal, a.top)
	if err != nil {
		return Answer{}, fmt.Errorf("search documents: %w", err)
	}

	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: buildSystemMessage(chunks)})
	for _, msg := range history {
		role := msg.Role
		if role == "" {
			role = models.RoleUser
		}
		messages = append(messages, models.Message{Role: role, Content: msg.Content})
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: question})

	content, err := a.llm.ChatCompletion(ctx, messages)
	if err != nil {
		return Answer{}, fmt.Errorf("generate response: %w", err)
	}

	return Answer{
		Content: content,
		Sources: buildSourceReferences(chunks),
		Refused: isRefusal(content),
	}, nil
}

func buildSystemMessage(chunks []models.DocumentChunk) string {
	return systemPrompt + "\n\nDOCUMENT CONTEXT:\n" + formatContext(chunks) +
		"\n\nUse the above document context to answer the user's question. Cite sources by document title."
}

func formatContext(chunks []models.DocumentChunk) string {
	if len(chunks) == 0 {
		return "No documents found matching the query."
	}
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		parts = append(parts, fmt.Sprintf("[Document %d]\nTitle: %s\nSource: %s\nContent:\n%s\n",
			i+1, c.DocumentTitle, c.SourceURL, c.Content))
	}
	return strings.Join(parts, "\n---\n")
}

func buildSourceReferences(chunks []models.DocumentChunk) []models.SourceReference {
	if len(chunks) == 0 {
		return nil
	}
	refs := make([]models.SourceReference, 0, len(chunks))
	for _, c := range chunks {
		refs = append(refs, models.SourceReference{
			DocumentTitle:  c.DocumentTitle,
			DocumentURL:    c.SourceURL,
			Excerpt:        truncateRunes(c.Content, excerptLimit),
			RelevanceScore: c.RelevanceScore,
		})
	}
	return refs
}

func isRefusal(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
