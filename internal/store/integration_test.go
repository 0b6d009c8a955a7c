package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tubewise/tubewise/internal/store"
)

// Exercises the real pgvector distance operator end to end: passage writes,
// nearest-neighbor ordering and the ingestion bookkeeping around them.
func TestStorePgvectorRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		tcPostgres.WithDatabase("tubewise"),
		tcPostgres.WithUsername("tubewise"),
		tcPostgres.WithPassword("tubewise"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://tubewise:tubewise@%s:%s/tubewise?sslmode=disable", host, port.Port())

	if err := applySchema(ctx, dsn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.DB.Close()

	channelID, err := st.CreateChannel(ctx, store.ChannelRecord{
		ChannelID: "UCtest",
		Name:      "Test Channel",
		URL:       "https://www.youtube.com/@test",
	})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	videoID, err := st.CreateVideo(ctx, store.VideoRecord{
		VideoID:   "video-ext-1",
		Title:     "Test Video",
		URL:       "https://www.youtube.com/watch?v=video-ext-1",
		ChannelID: channelID,
		Duration:  120,
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}

	passages := []store.PassageRecord{
		{VideoID: videoID, ChunkIndex: 0, Content: "first passage", Embedding: []float32{1, 0, 0}, TimestampStart: 0, TimestampEnd: 40},
		{VideoID: videoID, ChunkIndex: 1, Content: "second passage", Embedding: []float32{0, 1, 0}, TimestampStart: 40, TimestampEnd: 80},
		{VideoID: videoID, ChunkIndex: 2, Content: "third passage", Embedding: []float32{0.9, 0.1, 0}, TimestampStart: 80, TimestampEnd: 120},
	}
	if err := st.ReplaceVideoPassages(ctx, videoID, passages); err != nil {
		t.Fatalf("replace passages: %v", err)
	}
	if err := st.MarkVideoIngested(ctx, videoID); err != nil {
		t.Fatalf("mark ingested: %v", err)
	}

	// Query vector closest to the first passage; cosine order should put
	// chunk 0 first, chunk 2 second.
	hits, err := st.SearchPassages(ctx, channelID, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search passages: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Content != "first passage" || hits[1].Content != "third passage" {
		t.Fatalf("unexpected ordering: %q then %q", hits[0].Content, hits[1].Content)
	}
	if hits[0].Distance >= hits[1].Distance {
		t.Fatalf("expected ascending distance, got %v then %v", hits[0].Distance, hits[1].Distance)
	}

	// Replacing again must swap the whole set, not append.
	if err := st.ReplaceVideoPassages(ctx, videoID, passages[:1]); err != nil {
		t.Fatalf("replace passages second time: %v", err)
	}
	hits, err = st.SearchPassages(ctx, channelID, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("search after replace: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit after replace, got %d", len(hits))
	}

	counts, err := st.ChannelIngestionCounts(ctx, channelID)
	if err != nil {
		t.Fatalf("ingestion counts: %v", err)
	}
	if counts.Total != 1 || counts.Ingested != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func applySchema(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaSQL := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS channels (
    id UUID PRIMARY KEY,
    channel_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    description TEXT,
    thumbnail_url TEXT,
    subscriber_count BIGINT NOT NULL DEFAULT 0,
    video_count INTEGER NOT NULL DEFAULT 0,
    url TEXT NOT NULL,
    refresh_cron TEXT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS videos (
    id UUID PRIMARY KEY,
    video_id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    description TEXT,
    thumbnail_url TEXT,
    duration INTEGER,
    view_count BIGINT,
    published_at TIMESTAMPTZ,
    url TEXT NOT NULL,
    transcript TEXT,
    is_ingested BOOLEAN NOT NULL DEFAULT FALSE,
    channel_id UUID NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS video_passages (
    id BIGSERIAL PRIMARY KEY,
    video_id UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding vector(3),
    timestamp_start INTEGER,
    timestamp_end INTEGER,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (video_id, chunk_index)
);
`
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
