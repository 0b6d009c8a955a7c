// Package chat answers questions about a channel's videos using retrieved
// transcript passages as grounding context.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/tubewise/tubewise/config"
	"github.com/tubewise/tubewise/internal/provider"
	"github.com/tubewise/tubewise/internal/store"
)

const (
	answerSystemPrompt = `You are a helpful assistant that answers questions about YouTube videos based on their transcripts.
Use only the provided transcript excerpts to answer. If the excerpts do not contain the answer, say so.
When you reference specific content, mention which video it came from.`

	studyGuideSystemPrompt = `You are an educational assistant. Create a structured study guide from the provided video transcript excerpts.
Organise the guide with key concepts, definitions and takeaways. Use only the provided excerpts.`

	summarySystemPrompt = `You are a helpful assistant. Summarise what this YouTube channel covers based on the provided transcript excerpts.
Describe the main topics and themes in a few short paragraphs.`

	// previewLength caps the source snippet returned alongside answers.
	previewLength = 200

	noContextAnswer = "I don't have any ingested transcript content that covers this question for this channel yet."
)

// Source points an answer back at the passage it was grounded on.
type Source struct {
	VideoTitle     string  `json:"video_title"`
	VideoURL       string  `json:"video_url"`
	TimestampStart int     `json:"timestamp_start"`
	TimestampEnd   int     `json:"timestamp_end"`
	ContentPreview string  `json:"content_preview"`
	Similarity     float64 `json:"similarity"`
}

// Answer is a grounded response with its supporting sources.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Service performs retrieval-augmented answering over stored passages.
type Service struct {
	store    *store.Store
	provider provider.Provider
	openAI   config.OpenAIConfig
	cfg      config.ChatConfig
	logger   *log.Logger
}

// New builds the chat service.
func New(st *store.Store, p provider.Provider, openAI config.OpenAIConfig, cfg config.ChatConfig, logger *log.Logger) (*Service, error) {
	if st == nil || p == nil {
		return nil, errors.New("chat requires store and provider")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}
	return &Service{store: st, provider: p, openAI: openAI, cfg: cfg, logger: logger}, nil
}

// Ask answers a question about a channel using its nearest transcript passages.
// With nothing retrieved it answers honestly with no sources rather than
// letting the model guess.
func (s *Service) Ask(ctx context.Context, channelID, question string) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, errors.New("question must not be empty")
	}
	hits, err := s.retrieve(ctx, channelID, question, s.cfg.TopK)
	if err != nil {
		return Answer{}, err
	}
	if len(hits) == 0 {
		return Answer{Answer: noContextAnswer, Sources: []Source{}}, nil
	}
	s.logger.Printf("answering with %d passages for channel %s", len(hits), channelID)
	answer, err := s.complete(ctx, answerSystemPrompt, buildContext(hits)+"\n\nQuestion: "+question)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Answer: answer, Sources: sourcesFrom(hits)}, nil
}

// StudyGuide produces a structured study guide on a topic from a channel's
// passages. A broader retrieval window than Ask gives the guide more material.
func (s *Service) StudyGuide(ctx context.Context, channelID, topic string) (Answer, error) {
	if strings.TrimSpace(topic) == "" {
		return Answer{}, errors.New("topic must not be empty")
	}
	hits, err := s.retrieve(ctx, channelID, topic, s.cfg.TopK*2)
	if err != nil {
		return Answer{}, err
	}
	if len(hits) == 0 {
		return Answer{Answer: noContextAnswer, Sources: []Source{}}, nil
	}
	guide, err := s.complete(ctx, studyGuideSystemPrompt, buildContext(hits)+"\n\nTopic: "+topic)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Answer: guide, Sources: sourcesFrom(hits)}, nil
}

// Summarize describes a channel's content from a storage-order passage sample.
func (s *Service) Summarize(ctx context.Context, channelID string) (string, error) {
	samples, err := s.store.SamplePassages(ctx, channelID, 20)
	if err != nil {
		return "", fmt.Errorf("sample passages: %w", err)
	}
	if len(samples) == 0 {
		return noContextAnswer, nil
	}
	var b strings.Builder
	for _, sample := range samples {
		fmt.Fprintf(&b, "From video %q:\n%s\n\n", sample.VideoTitle, sample.Content)
	}
	return s.complete(ctx, summarySystemPrompt, b.String())
}

// Search returns the passages nearest to a free-text query without running
// any synthesis over them.
func (s *Service) Search(ctx context.Context, channelID, query string, k int) ([]Source, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query must not be empty")
	}
	if k <= 0 {
		k = s.cfg.TopK
	}
	hits, err := s.retrieve(ctx, channelID, query, k)
	if err != nil {
		return nil, err
	}
	return sourcesFrom(hits), nil
}

func (s *Service) retrieve(ctx context.Context, channelID, query string, k int) ([]store.PassageSearchResult, error) {
	vectors, err := s.provider.Embed(ctx, s.openAI.EmbeddingModel, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}
	hits, err := s.store.SearchPassages(ctx, channelID, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	return hits, nil
}

func (s *Service) complete(ctx context.Context, system, user string) (string, error) {
	answer, err := s.provider.Complete(ctx, provider.CompletionRequest{
		Model:        s.openAI.CompletionModel,
		SystemPrompt: system,
		UserMessage:  user,
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	return answer, nil
}

func buildContext(hits []store.PassageSearchResult) string {
	var b strings.Builder
	b.WriteString("Transcript excerpts:\n\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "From video %q (%ds-%ds):\n%s\n\n", h.VideoTitle, h.TimestampStart, h.TimestampEnd, h.Content)
	}
	return b.String()
}

func sourcesFrom(hits []store.PassageSearchResult) []Source {
	sources := make([]Source, len(hits))
	for i, h := range hits {
		sources[i] = Source{
			VideoTitle:     h.VideoTitle,
			VideoURL:       h.VideoURL,
			TimestampStart: h.TimestampStart,
			TimestampEnd:   h.TimestampEnd,
			ContentPreview: preview(h.Content),
			Similarity:     h.Similarity(),
		}
	}
	return sources
}

func preview(content string) string {
	if len(content) <= previewLength {
		return content
	}
	return content[:previewLength] + "..."
}
