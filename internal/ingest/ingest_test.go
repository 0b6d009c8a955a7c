package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/tubewise/tubewise/config"
	"github.com/tubewise/tubewise/internal/provider"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

type fakeSource struct {
	transcript    string
	transcriptErr error
	video         youtube.Video
	videoErr      error
}

func (f *fakeSource) ChannelInfo(context.Context, string) (youtube.Channel, error) {
	return youtube.Channel{}, errors.New("not implemented")
}

func (f *fakeSource) ChannelVideos(context.Context, string, int) ([]youtube.Video, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSource) VideoInfo(context.Context, string) (youtube.Video, error) {
	return f.video, f.videoErr
}

func (f *fakeSource) Transcript(context.Context, string) (string, error) {
	return f.transcript, f.transcriptErr
}

type fakeProvider struct {
	dims     int
	embedErr error
	batches  [][]string
}

func (f *fakeProvider) Embed(_ context.Context, _ string, input []string) ([][]float32, error) {
	f.batches = append(f.batches, input)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(input))
	for i := range input {
		vec := make([]float32, f.dims)
		for j := range vec {
			vec[j] = float32(j+1) / 10
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeProvider) Complete(context.Context, provider.CompletionRequest) (string, error) {
	return "", errors.New("not implemented")
}

func testConfig() (config.OpenAIConfig, config.IngestConfig) {
	openAI := config.OpenAIConfig{EmbeddingModel: "text-embedding-3-small", EmbeddingDimensions: 2}
	cfg := config.IngestConfig{ChunkSize: 1000, ChunkOverlap: 200, EmbedBatchSize: 32, DefaultDuration: 600}
	return openAI, cfg
}

func newTestPipeline(t *testing.T, src youtube.Source, p provider.Provider) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	openAI, cfg := testConfig()
	pipe, err := New(&store.Store{DB: db}, src, p, openAI, cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pipe, mock
}

func videoRow(id, videoID string, duration int, ingested bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "video_id", "title", "description", "thumbnail_url", "duration", "view_count",
		"published_at", "url", "transcript", "is_ingested", "channel_id", "created_at", "updated_at",
	}).AddRow(id, videoID, "Title", "", "", duration, 0, now, youtube.WatchURL(videoID), "", ingested, "channel-1", now, now)
}

func TestIngestVideosFullPipeline(t *testing.T) {
	src := &fakeSource{transcript: "Hello world."}
	p := &fakeProvider{dims: 2}
	pipe, mock := newTestPipeline(t, src, p)

	mock.ExpectQuery(`SELECT id, video_id`).
		WithArgs("abc").
		WillReturnRows(videoRow("vid-uuid", "abc", 100, false))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE videos SET transcript=$2, updated_at=NOW() WHERE id=$1`)).
		WithArgs("vid-uuid", "Hello world.").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM video_passages WHERE video_id=$1`)).
		WithArgs("vid-uuid").
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`INSERT INTO video_passages`)
	prep.ExpectExec().
		WithArgs("vid-uuid", 0, "Hello world.", "[0.1,0.2]", 0, 100).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE videos SET is_ingested=TRUE`)).
		WithArgs("vid-uuid").
		WillReturnResult(sqlmock.NewResult(0, 1))

	report := pipe.IngestVideos(context.Background(), "channel-1", []string{"abc"})
	if len(report.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(report.Outcomes))
	}
	if got := report.Outcomes[0]; got.Status != StatusIngested || got.Error != "" {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if len(p.batches) != 1 || len(p.batches[0]) != 1 {
		t.Fatalf("unexpected embed batches: %v", p.batches)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIngestVideosSkipsIngested(t *testing.T) {
	src := &fakeSource{transcript: "irrelevant"}
	pipe, mock := newTestPipeline(t, src, &fakeProvider{dims: 2})

	mock.ExpectQuery(`SELECT id, video_id`).
		WithArgs("abc").
		WillReturnRows(videoRow("vid-uuid", "abc", 100, true))

	report := pipe.IngestVideos(context.Background(), "channel-1", []string{"abc"})
	if report.Outcomes[0].Status != StatusSkipped {
		t.Fatalf("expected skipped, got %+v", report.Outcomes[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIngestVideosNoTranscript(t *testing.T) {
	src := &fakeSource{transcriptErr: youtube.ErrNoTranscript}
	pipe, mock := newTestPipeline(t, src, &fakeProvider{dims: 2})

	mock.ExpectQuery(`SELECT id, video_id`).
		WithArgs("abc").
		WillReturnRows(videoRow("vid-uuid", "abc", 100, false))

	report := pipe.IngestVideos(context.Background(), "channel-1", []string{"abc"})
	if got := report.Outcomes[0]; got.Status != StatusNoTranscript || got.Error != "" {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIngestVideosIsolatesFailures(t *testing.T) {
	src := &fakeSource{transcript: "irrelevant"}
	pipe, mock := newTestPipeline(t, src, &fakeProvider{dims: 2})

	mock.ExpectQuery(`SELECT id, video_id`).
		WithArgs("bad").
		WillReturnError(errors.New("db down"))
	mock.ExpectQuery(`SELECT id, video_id`).
		WithArgs("good").
		WillReturnRows(videoRow("vid-2", "good", 100, true))

	report := pipe.IngestVideos(context.Background(), "channel-1", []string{"bad", "good"})
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(report.Outcomes))
	}
	if report.Outcomes[0].Status != StatusFailed || report.Outcomes[0].Error == "" {
		t.Fatalf("expected first video to fail: %+v", report.Outcomes[0])
	}
	if report.Outcomes[1].Status != StatusSkipped {
		t.Fatalf("expected second video skipped: %+v", report.Outcomes[1])
	}
	if failed := report.Failed(); len(failed) != 1 || failed[0].VideoID != "bad" {
		t.Fatalf("unexpected failed set: %+v", failed)
	}
}

func TestIngestVideosProviderFailureAbortsVideo(t *testing.T) {
	src := &fakeSource{transcript: "Some transcript text."}
	p := &fakeProvider{dims: 2, embedErr: errors.New("rate limited")}
	pipe, mock := newTestPipeline(t, src, p)

	mock.ExpectQuery(`SELECT id, video_id`).
		WithArgs("abc").
		WillReturnRows(videoRow("vid-uuid", "abc", 100, false))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE videos SET transcript=$2, updated_at=NOW() WHERE id=$1`)).
		WithArgs("vid-uuid", "Some transcript text.").
		WillReturnResult(sqlmock.NewResult(0, 1))

	report := pipe.IngestVideos(context.Background(), "channel-1", []string{"abc"})
	if got := report.Outcomes[0]; got.Status != StatusFailed || got.Error == "" {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	// No passage writes were attempted.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEstimateSpan(t *testing.T) {
	start, end := estimateSpan(0, 50, 100, 600)
	if start != 0 || end != 300 {
		t.Fatalf("expected [0,300], got [%d,%d]", start, end)
	}
	// Overlap pushes the consumed count past the transcript length; the end
	// ratio clamps at the video duration.
	start, end = estimateSpan(80, 50, 100, 600)
	if start != 480 || end != 600 {
		t.Fatalf("expected [480,600], got [%d,%d]", start, end)
	}
	if start, end = estimateSpan(0, 0, 0, 600); start != 0 || end != 0 {
		t.Fatalf("expected [0,0] for empty transcript, got [%d,%d]", start, end)
	}
}
