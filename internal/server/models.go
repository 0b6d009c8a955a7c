package server

import (
	"time"

	"github.com/tubewise/tubewise/internal/ingest"
	"github.com/tubewise/tubewise/internal/store"
)

// HTTPError is the JSON error body produced by the unified error handler.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type AnalyzeChannelRequest struct {
	URL string `json:"url"`
}

// ChannelPreview is channel metadata fetched from the source without
// persisting anything.
type ChannelPreview struct {
	ChannelID    string `json:"channel_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	URL          string `json:"url"`
}

type CreateChannelRequest struct {
	URL         string `json:"url"`
	RefreshCron string `json:"refresh_cron"`
}

type ChannelResponse struct {
	ID              string    `json:"id"`
	ChannelID       string    `json:"channel_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	SubscriberCount int64     `json:"subscriber_count"`
	VideoCount      int       `json:"video_count"`
	URL             string    `json:"url"`
	RefreshCron     string    `json:"refresh_cron,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func channelResponse(ch store.ChannelRecord) ChannelResponse {
	return ChannelResponse{
		ID:              ch.ID,
		ChannelID:       ch.ChannelID,
		Name:            ch.Name,
		Description:     ch.Description,
		ThumbnailURL:    ch.ThumbnailURL,
		SubscriberCount: ch.SubscriberCount,
		VideoCount:      ch.VideoCount,
		URL:             ch.URL,
		RefreshCron:     ch.RefreshCron,
		CreatedAt:       ch.CreatedAt,
	}
}

type VideoResponse struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Duration     int       `json:"duration,omitempty"`
	ViewCount    int64     `json:"view_count,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	URL          string    `json:"url"`
	IsIngested   bool      `json:"is_ingested"`
}

func videoResponse(v store.VideoRecord) VideoResponse {
	return VideoResponse{
		ID:           v.ID,
		VideoID:      v.VideoID,
		Title:        v.Title,
		Description:  v.Description,
		ThumbnailURL: v.ThumbnailURL,
		Duration:     v.Duration,
		ViewCount:    v.ViewCount,
		PublishedAt:  v.PublishedAt,
		URL:          v.URL,
		IsIngested:   v.IsIngested,
	}
}

// SourceVideoResponse describes a video from the source's uploads feed that
// may not be in the database yet.
type SourceVideoResponse struct {
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Duration     int       `json:"duration,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	URL          string    `json:"url"`
}

type IngestRequest struct {
	VideoIDs []string `json:"video_ids"`
	Max      int      `json:"max"`
}

type IngestAccepted struct {
	JobID     string `json:"job_id"`
	ChannelID string `json:"channel_id"`
	Videos    int    `json:"videos"`
}

type ChannelStatusResponse struct {
	ChannelID      string `json:"channel_id"`
	TotalVideos    int    `json:"total_videos"`
	IngestedVideos int    `json:"ingested_videos"`
}

// JobStatus tracks an asynchronous ingestion job.
type JobStatus struct {
	JobID     string              `json:"job_id"`
	ChannelID string              `json:"channel_id"`
	State     string              `json:"state"` // running or completed
	Videos    int                 `json:"videos"`
	Report    *ingest.BatchReport `json:"report,omitempty"`
}

type ChatRequest struct {
	Question string `json:"question"`
}

type SimilarSearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type StudyGuideRequest struct {
	Topic string `json:"topic"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}
