// Package ingest implements the transcript ingestion pipeline: fetch, chunk,
// embed and persist passages per video, with per-video failure isolation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tubewise/tubewise/config"
	"github.com/tubewise/tubewise/internal/chunker"
	"github.com/tubewise/tubewise/internal/lexical"
	"github.com/tubewise/tubewise/internal/provider"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

// Status classifies the outcome of one video within a batch.
type Status string

const (
	StatusIngested     Status = "ingested"
	StatusSkipped      Status = "skipped"
	StatusNoTranscript Status = "no_transcript"
	StatusFailed       Status = "failed"
)

// Outcome records what happened to a single video id in a batch.
type Outcome struct {
	VideoID string `json:"video_id"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
}

// BatchReport summarises an ingestion batch. One video's failure never stops
// the rest of the batch; every requested id gets an outcome.
type BatchReport struct {
	JobID      string    `json:"job_id"`
	ChannelID  string    `json:"channel_id"`
	Outcomes   []Outcome `json:"outcomes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Failed returns the outcomes that ended in failure.
func (r BatchReport) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// Pipeline orchestrates transcript ingestion for a channel's videos.
type Pipeline struct {
	store          *store.Store
	source         youtube.Source
	provider       provider.Provider
	embeddingModel string
	dimensions     int
	cfg            config.IngestConfig
	logger         *log.Logger
	catalog        *lexical.Catalog
}

// AttachCatalog enables lexical indexing of transcripts after ingestion.
func (p *Pipeline) AttachCatalog(c *lexical.Catalog) { p.catalog = c }

// New builds an ingestion pipeline with injected collaborators.
func New(st *store.Store, source youtube.Source, p provider.Provider, openAI config.OpenAIConfig, cfg config.IngestConfig, logger *log.Logger) (*Pipeline, error) {
	if st == nil || source == nil || p == nil {
		return nil, errors.New("ingest requires store, source and provider")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if openAI.EmbeddingModel == "" {
		return nil, errors.New("embedding model must be configured")
	}
	dims := openAI.EmbeddingDimensions
	if dims <= 0 {
		dims = store.DefaultEmbeddingDimensions
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 600
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Pipeline{
		store:          st,
		source:         source,
		provider:       p,
		embeddingModel: openAI.EmbeddingModel,
		dimensions:     dims,
		cfg:            cfg,
		logger:         logger,
	}, nil
}

// IngestVideos processes each video id in order and returns per-item outcomes.
// Videos are handled sequentially to respect embedding provider rate limits.
func (p *Pipeline) IngestVideos(ctx context.Context, channelID string, videoIDs []string) BatchReport {
	report := BatchReport{
		JobID:     uuid.NewString(),
		ChannelID: channelID,
		StartedAt: time.Now().UTC(),
	}
	for _, videoID := range videoIDs {
		outcome := Outcome{VideoID: videoID}
		status, err := p.ingestOne(ctx, channelID, videoID)
		outcome.Status = status
		if err != nil {
			outcome.Error = err.Error()
			p.logger.Printf("video %s: %v", videoID, err)
			videosFailed.Inc()
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	report.FinishedAt = time.Now().UTC()
	return report
}

// ingestOne runs the full pipeline for a single video. Any error aborts this
// video only; the caller records it and moves on.
func (p *Pipeline) ingestOne(ctx context.Context, channelID, videoID string) (Status, error) {
	video, err := p.store.GetVideoByExternalID(ctx, videoID)
	switch {
	case err == nil:
		if video.IsIngested {
			p.logger.Printf("video %s already ingested, skipping", videoID)
			return StatusSkipped, nil
		}
	case errors.Is(err, store.ErrNotFound):
		video, err = p.createVideo(ctx, channelID, videoID)
		if err != nil {
			return StatusFailed, err
		}
	default:
		return StatusFailed, fmt.Errorf("resolve video: %w", err)
	}

	transcript, err := p.source.Transcript(ctx, videoID)
	if errors.Is(err, youtube.ErrNoTranscript) {
		p.logger.Printf("no transcript available for video %s", videoID)
		return StatusNoTranscript, nil
	}
	if err != nil {
		return StatusFailed, fmt.Errorf("fetch transcript: %w", err)
	}

	// Checkpoint the transcript so a retry after an embedding failure does not
	// need to re-fetch it.
	if err := p.store.UpdateVideoTranscript(ctx, video.ID, transcript); err != nil {
		return StatusFailed, err
	}

	records, err := p.buildPassages(ctx, video, transcript)
	if err != nil {
		return StatusFailed, err
	}

	// All-or-none: a provider failure above means nothing was written, and the
	// replace itself is transactional.
	if err := p.store.ReplaceVideoPassages(ctx, video.ID, records); err != nil {
		return StatusFailed, fmt.Errorf("store passages: %w", err)
	}
	if err := p.store.MarkVideoIngested(ctx, video.ID); err != nil {
		return StatusFailed, err
	}

	if p.catalog != nil {
		doc := lexical.Document{VideoID: videoID, Title: video.Title, URL: video.URL, Text: transcript}
		if err := p.catalog.IndexVideo(channelID, doc); err != nil {
			// Lexical search is rebuilt at startup; failing here is not fatal.
			p.logger.Printf("video %s: lexical index failed: %v", videoID, err)
		}
	}

	videosIngested.Inc()
	passagesEmbedded.Add(float64(len(records)))
	p.logger.Printf("ingested video %s (%d passages)", videoID, len(records))
	return StatusIngested, nil
}

func (p *Pipeline) createVideo(ctx context.Context, channelID, videoID string) (store.VideoRecord, error) {
	rec := store.VideoRecord{
		VideoID:   videoID,
		Title:     "Video " + videoID,
		URL:       youtube.WatchURL(videoID),
		ChannelID: channelID,
	}
	// Best effort: oEmbed failures leave the placeholder title in place.
	if info, err := p.source.VideoInfo(ctx, videoID); err == nil {
		rec.Title = info.Title
		rec.Description = info.Description
		rec.ThumbnailURL = info.ThumbnailURL
		rec.Duration = info.Duration
		rec.ViewCount = info.ViewCount
		rec.PublishedAt = info.PublishedAt
	} else {
		p.logger.Printf("video %s: metadata lookup failed: %v", videoID, err)
	}
	id, err := p.store.CreateVideo(ctx, rec)
	if err != nil {
		return store.VideoRecord{}, err
	}
	rec.ID = id
	return rec, nil
}

// buildPassages chunks the transcript, embeds every chunk and attaches
// estimated timestamps. A provider failure aborts the whole video.
func (p *Pipeline) buildPassages(ctx context.Context, video store.VideoRecord, transcript string) ([]store.PassageRecord, error) {
	chunks, err := chunker.Split(transcript, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunk transcript: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	duration := video.Duration
	if duration <= 0 {
		duration = p.cfg.DefaultDuration
	}

	records := make([]store.PassageRecord, len(chunks))
	consumed := 0
	total := len(transcript)
	for i, chunk := range chunks {
		start, end := estimateSpan(consumed, len(chunk), total, duration)
		records[i] = store.PassageRecord{
			VideoID:        video.ID,
			ChunkIndex:     i,
			Content:        chunk,
			Embedding:      vectors[i],
			TimestampStart: start,
			TimestampEnd:   end,
		}
		consumed += len(chunk)
	}
	return records, nil
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		resp, err := p.provider.Embed(ctx, p.embeddingModel, batch)
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(resp) != len(batch) {
			return nil, fmt.Errorf("embed chunks: expected %d vectors, got %d", len(batch), len(resp))
		}
		for _, vec := range resp {
			if len(vec) != p.dimensions {
				return nil, fmt.Errorf("embed chunks: dimension mismatch (got %d want %d)", len(vec), p.dimensions)
			}
		}
		vectors = append(vectors, resp...)
	}
	return vectors, nil
}

// estimateSpan maps a chunk's character offsets onto the video duration
// proportionally. Overlap inflates summed chunk lengths past the transcript
// length, so ratios are clamped. The result is an estimate, not cue timing.
func estimateSpan(consumed, chunkLen, totalChars, durationSeconds int) (int, int) {
	if totalChars <= 0 {
		return 0, 0
	}
	startRatio := clampRatio(float64(consumed) / float64(totalChars))
	endRatio := clampRatio(float64(consumed+chunkLen) / float64(totalChars))
	return int(startRatio * float64(durationSeconds)), int(endRatio * float64(durationSeconds))
}

func clampRatio(r float64) float64 {
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}
