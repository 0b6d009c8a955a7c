package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/tubewise/tubewise/config"
	"github.com/tubewise/tubewise/internal/ingest"
	"github.com/tubewise/tubewise/internal/provider"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string, input []string) ([][]float32, error) {
	out := make([][]float32, len(input))
	for i := range input {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (stubEmbedder) Complete(context.Context, provider.CompletionRequest) (string, error) {
	return "", nil
}

func newIngestHandler(t *testing.T) (*IngestHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := &store.Store{DB: db}
	src := &fakeSource{videos: []youtube.Video{{VideoID: "vid-1"}}}
	pipe, err := ingest.New(st, src, stubEmbedder{},
		config.OpenAIConfig{EmbeddingModel: "text-embedding-3-small", EmbeddingDimensions: 2},
		config.IngestConfig{ChunkSize: 1000, ChunkOverlap: 200, EmbedBatchSize: 32, DefaultDuration: 600},
		log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	return &IngestHandler{
		Store:     st,
		Source:    src,
		Pipeline:  pipe,
		Jobs:      NewJobTracker(nil, time.Minute),
		MaxVideos: 100,
	}, mock
}

func TestStartIngestAccepted(t *testing.T) {
	handler, mock := newIngestHandler(t)
	e := echo.New()

	mock.ExpectQuery(`SELECT id, channel_id`).
		WithArgs("chan-uuid").
		WillReturnRows(channelRow("chan-uuid"))
	// The background run finds the requested video already ingested.
	mock.ExpectQuery(`SELECT id, video_id`).
		WithArgs("vid-1").
		WillReturnRows(ingestedVideoRow("vid-db-1", "vid-1"))

	req := httptest.NewRequest(http.MethodPost, "/api/channels/chan-uuid/ingest",
		strings.NewReader(`{"video_ids":["vid-1"]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("chan-uuid")

	if err := handler.start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp IngestAccepted
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || resp.Videos != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	status := waitForJob(t, handler.Jobs, resp.JobID)
	if status.Report == nil || len(status.Report.Outcomes) != 1 {
		t.Fatalf("unexpected job status: %+v", status)
	}
	if status.Report.Outcomes[0].Status != ingest.StatusSkipped {
		t.Fatalf("expected skipped outcome, got %+v", status.Report.Outcomes[0])
	}
}

func TestStartIngestConflict(t *testing.T) {
	handler, mock := newIngestHandler(t)
	e := echo.New()

	mock.ExpectQuery(`SELECT id, channel_id`).
		WithArgs("chan-uuid").
		WillReturnRows(channelRow("chan-uuid"))

	// Another run already holds the channel lock.
	ok, release := handler.Jobs.TryLock(context.Background(), "chan-uuid")
	if !ok {
		t.Fatal("setup: failed to take lock")
	}
	defer release()

	req := httptest.NewRequest(http.MethodPost, "/api/channels/chan-uuid/ingest",
		strings.NewReader(`{"video_ids":["vid-1"]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("chan-uuid")

	err := handler.start(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409 error, got %#v", err)
	}
}

func TestStartIngestChannelNotFound(t *testing.T) {
	handler, mock := newIngestHandler(t)
	e := echo.New()

	mock.ExpectQuery(`SELECT id, channel_id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodPost, "/api/channels/missing/ingest", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("missing")

	err := handler.start(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 error, got %#v", err)
	}
}

func waitForJob(t *testing.T, jobs *JobTracker, jobID string) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := jobs.Get(context.Background(), jobID); ok && status.State == "completed" {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not complete in time")
	return JobStatus{}
}

func ingestedVideoRow(id, videoID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "video_id", "title", "description", "thumbnail_url", "duration", "view_count",
		"published_at", "url", "transcript", "is_ingested", "channel_id", "created_at", "updated_at",
	}).AddRow(id, videoID, "Title", "", "", 100, 0, now, youtube.WatchURL(videoID), "", true, "chan-uuid", now, now)
}
