// Package store persists channels, videos and transcript passages in Postgres
// and provides the pgvector nearest-neighbor search used for retrieval.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// DefaultEmbeddingDimensions is the expected length of vectors stored in the
// passage embedding column.
const DefaultEmbeddingDimensions = 1536

var (
	// ErrNotFound reports that a referenced channel or video does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTopK reports a non-positive k passed to a similarity search.
	ErrInvalidTopK = errors.New("top k must be > 0")
)

// Store wraps the Postgres connection.
type Store struct {
	DB *sql.DB
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// ChannelRecord is a stored channel row.
type ChannelRecord struct {
	ID              string
	ChannelID       string
	Name            string
	Description     string
	ThumbnailURL    string
	SubscriberCount int64
	VideoCount      int
	URL             string
	RefreshCron     string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VideoRecord is a stored video row.
type VideoRecord struct {
	ID           string
	VideoID      string
	Title        string
	Description  string
	ThumbnailURL string
	Duration     int
	ViewCount    int64
	PublishedAt  time.Time
	URL          string
	Transcript   string
	IsIngested   bool
	ChannelID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PassageRecord is one embedded transcript chunk belonging to a video.
type PassageRecord struct {
	VideoID        string
	ChunkIndex     int
	Content        string
	Embedding      []float32
	TimestampStart int
	TimestampEnd   int
}

// PassageSearchResult is a similarity search hit joined with its video metadata.
type PassageSearchResult struct {
	Content        string
	TimestampStart int
	TimestampEnd   int
	VideoTitle     string
	VideoURL       string
	Distance       float64
}

// Similarity reports 1 - cosine distance for the hit.
func (r PassageSearchResult) Similarity() float64 { return 1 - r.Distance }

// PassageSample is a passage row used for channel-level summarisation.
type PassageSample struct {
	Content    string
	VideoTitle string
}

// IngestionCounts summarises a channel's ingestion progress.
type IngestionCounts struct {
	Total    int
	Ingested int
}

// --- users ---

// CreateUser stores a new account with a pre-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash) VALUES ($1,$2,$3)`,
		uuid.NewString(), email, passwordHash)
	return err
}

// GetUserByEmail returns the user id and password hash for an email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	return id, hash, nil
}

// --- channels ---

// CreateChannel inserts a channel and returns its id. Duplicate external
// channel ids surface as a pq unique violation for the caller to map.
func (s *Store) CreateChannel(ctx context.Context, ch ChannelRecord) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO channels (id, channel_id, name, description, thumbnail_url, subscriber_count, video_count, url, refresh_cron, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,TRUE,NOW(),NOW())`,
		id, ch.ChannelID, ch.Name, ch.Description, ch.ThumbnailURL, ch.SubscriberCount, ch.VideoCount, ch.URL, nullable(ch.RefreshCron))
	if err != nil {
		return "", fmt.Errorf("create channel: %w", err)
	}
	return id, nil
}

// GetChannel returns an active channel by id.
func (s *Store) GetChannel(ctx context.Context, id string) (ChannelRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, channel_id, name, COALESCE(description,''), COALESCE(thumbnail_url,''), subscriber_count, video_count, url, COALESCE(refresh_cron,''), is_active, created_at, updated_at
FROM channels WHERE id=$1 AND is_active=TRUE`, id)
	return scanChannel(row)
}

// ListChannels returns all active channels.
func (s *Store) ListChannels(ctx context.Context) ([]ChannelRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, channel_id, name, COALESCE(description,''), COALESCE(thumbnail_url,''), subscriber_count, video_count, url, COALESCE(refresh_cron,''), is_active, created_at, updated_at
FROM channels WHERE is_active=TRUE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var out []ChannelRecord
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ListScheduledChannels returns active channels carrying a refresh cron spec.
func (s *Store) ListScheduledChannels(ctx context.Context) ([]ChannelRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, channel_id, name, COALESCE(description,''), COALESCE(thumbnail_url,''), subscriber_count, video_count, url, COALESCE(refresh_cron,''), is_active, created_at, updated_at
FROM channels WHERE is_active=TRUE AND refresh_cron IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled channels: %w", err)
	}
	defer rows.Close()
	var out []ChannelRecord
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// MarkChannelRefreshed bumps the channel's updated_at, which the scheduler
// uses as the last refresh time.
func (s *Store) MarkChannelRefreshed(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE channels SET updated_at=NOW() WHERE id=$1 AND is_active=TRUE`, id)
	if err != nil {
		return fmt.Errorf("mark refreshed: %w", err)
	}
	return requireAffected(res)
}

// DeactivateChannel soft-deletes a channel. Passages remain owned by their
// videos; logical deletion cascades at read time through the is_active filter.
func (s *Store) DeactivateChannel(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE channels SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND is_active=TRUE`, id)
	if err != nil {
		return fmt.Errorf("deactivate channel: %w", err)
	}
	return requireAffected(res)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChannel(row rowScanner) (ChannelRecord, error) {
	var ch ChannelRecord
	err := row.Scan(&ch.ID, &ch.ChannelID, &ch.Name, &ch.Description, &ch.ThumbnailURL,
		&ch.SubscriberCount, &ch.VideoCount, &ch.URL, &ch.RefreshCron, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelRecord{}, ErrNotFound
	}
	if err != nil {
		return ChannelRecord{}, fmt.Errorf("scan channel: %w", err)
	}
	return ch, nil
}

// --- videos ---

const videoColumns = `id, video_id, title, COALESCE(description,''), COALESCE(thumbnail_url,''), COALESCE(duration,0), COALESCE(view_count,0), COALESCE(published_at, 'epoch'::timestamptz), url, COALESCE(transcript,''), is_ingested, channel_id, created_at, updated_at`

// CreateVideo inserts a video row and returns its id.
func (s *Store) CreateVideo(ctx context.Context, v VideoRecord) (string, error) {
	id := uuid.NewString()
	var published interface{}
	if !v.PublishedAt.IsZero() {
		published = v.PublishedAt
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO videos (id, video_id, title, description, thumbnail_url, duration, view_count, published_at, url, is_ingested, channel_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,$10,NOW(),NOW())`,
		id, v.VideoID, v.Title, v.Description, v.ThumbnailURL, v.Duration, v.ViewCount, published, v.URL, v.ChannelID)
	if err != nil {
		return "", fmt.Errorf("create video: %w", err)
	}
	return id, nil
}

// GetVideo returns a video by primary key.
func (s *Store) GetVideo(ctx context.Context, id string) (VideoRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id=$1`, id)
	return scanVideo(row)
}

// GetVideoByExternalID returns a video by its provider-assigned id.
func (s *Store) GetVideoByExternalID(ctx context.Context, videoID string) (VideoRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE video_id=$1`, videoID)
	return scanVideo(row)
}

// ListIngestedVideos returns a channel's fully ingested videos.
func (s *Store) ListIngestedVideos(ctx context.Context, channelID string) ([]VideoRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE channel_id=$1 AND is_ingested=TRUE ORDER BY published_at DESC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list ingested videos: %w", err)
	}
	defer rows.Close()
	var out []VideoRecord
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateVideoTranscript checkpoints the fetched transcript onto the video row.
func (s *Store) UpdateVideoTranscript(ctx context.Context, id, transcript string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE videos SET transcript=$2, updated_at=NOW() WHERE id=$1`, id, transcript)
	if err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	return requireAffected(res)
}

// MarkVideoIngested flips the ingestion flag after all passages are stored.
func (s *Store) MarkVideoIngested(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE videos SET is_ingested=TRUE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("mark ingested: %w", err)
	}
	return requireAffected(res)
}

// ChannelIngestionCounts reports total and ingested video counts for a channel.
func (s *Store) ChannelIngestionCounts(ctx context.Context, channelID string) (IngestionCounts, error) {
	var c IngestionCounts
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE is_ingested) FROM videos WHERE channel_id=$1`, channelID).
		Scan(&c.Total, &c.Ingested)
	if err != nil {
		return IngestionCounts{}, fmt.Errorf("ingestion counts: %w", err)
	}
	return c, nil
}

func scanVideo(row rowScanner) (VideoRecord, error) {
	var v VideoRecord
	err := row.Scan(&v.ID, &v.VideoID, &v.Title, &v.Description, &v.ThumbnailURL, &v.Duration,
		&v.ViewCount, &v.PublishedAt, &v.URL, &v.Transcript, &v.IsIngested, &v.ChannelID, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return VideoRecord{}, ErrNotFound
	}
	if err != nil {
		return VideoRecord{}, fmt.Errorf("scan video: %w", err)
	}
	return v, nil
}

// --- passages ---

// ReplaceVideoPassages atomically swaps a video's passages. Either every
// record persists or none does, so concurrent readers never observe a
// half-written passage set.
func (s *Store) ReplaceVideoPassages(ctx context.Context, videoID string, records []PassageRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `DELETE FROM video_passages WHERE video_id=$1`, videoID); err != nil {
		return fmt.Errorf("delete existing passages: %w", err)
	}

	if len(records) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO video_passages (video_id, chunk_index, content, embedding, timestamp_start, timestamp_end, created_at)
VALUES ($1,$2,$3,$4::vector,$5,$6,NOW())`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			if rec.Content == "" {
				return fmt.Errorf("passage %d: content required", rec.ChunkIndex)
			}
			vectorLiteral, err := encodeVectorLiteral(rec.Embedding)
			if err != nil {
				return fmt.Errorf("passage %d: %w", rec.ChunkIndex, err)
			}
			if _, err := stmt.ExecContext(ctx, videoID, rec.ChunkIndex, rec.Content, vectorLiteral, rec.TimestampStart, rec.TimestampEnd); err != nil {
				return fmt.Errorf("insert passage %d: %w", rec.ChunkIndex, err)
			}
		}
	}
	return tx.Commit()
}

// SearchPassages returns the top-k passages nearest to the query vector,
// scoped to the given channel through the video ownership chain. Results are
// ordered by ascending cosine distance.
func (s *Store) SearchPassages(ctx context.Context, channelID string, vector []float32, k int) ([]PassageSearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidTopK
	}
	vectorLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT vp.content, vp.timestamp_start, vp.timestamp_end, v.title, v.url, vp.embedding <=> $1::vector AS distance
FROM video_passages vp
JOIN videos v ON vp.video_id = v.id
WHERE v.channel_id = $2
ORDER BY distance
LIMIT $3`, vectorLiteral, channelID, k)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close()

	var results []PassageSearchResult
	for rows.Next() {
		var r PassageSearchResult
		if err := rows.Scan(&r.Content, &r.TimestampStart, &r.TimestampEnd, &r.VideoTitle, &r.VideoURL, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SamplePassages returns up to limit passages from a channel in storage order,
// joined with their video titles. Used for channel-level summaries.
func (s *Store) SamplePassages(ctx context.Context, channelID string, limit int) ([]PassageSample, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT vp.content, v.title
FROM video_passages vp
JOIN videos v ON vp.video_id = v.id
WHERE v.channel_id = $1
ORDER BY vp.id
LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("sample passages: %w", err)
	}
	defer rows.Close()
	var out []PassageSample
	for rows.Next() {
		var p PassageSample
		if err := rows.Scan(&p.Content, &p.VideoTitle); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- helpers ---

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
