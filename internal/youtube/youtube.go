// Package youtube fetches channel metadata, video listings and caption
// transcripts from YouTube's public endpoints (uploads RSS feed, oEmbed,
// timedtext captions). All values crossing this boundary are typed structs;
// nothing loosely shaped reaches the rest of the system.
package youtube

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tubewise/tubewise/config"
)

// ErrNoTranscript reports that a video has no captions in the configured
// language. It is a normal outcome, not a failure.
var ErrNoTranscript = errors.New("no transcript available")

// Channel is validated channel metadata from the source.
type Channel struct {
	ChannelID    string
	Name         string
	Description  string
	ThumbnailURL string
	URL          string
}

// Video is validated video metadata from the source.
type Video struct {
	VideoID      string
	Title        string
	Description  string
	ThumbnailURL string
	Duration     int // seconds, 0 when unknown
	ViewCount    int64
	PublishedAt  time.Time
	URL          string
}

// Source is the external video-metadata/transcript boundary.
type Source interface {
	ChannelInfo(ctx context.Context, channelURL string) (Channel, error)
	ChannelVideos(ctx context.Context, channelID string, max int) ([]Video, error)
	VideoInfo(ctx context.Context, videoID string) (Video, error)
	Transcript(ctx context.Context, videoID string) (string, error)
}

const defaultBaseURL = "https://www.youtube.com"

// Client implements Source over YouTube's public feed/oEmbed/timedtext endpoints.
type Client struct {
	baseURL     string
	captionLang string
	maxVideos   int
	httpClient  *http.Client
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.YouTubeConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	lang := cfg.CaptionLang
	if lang == "" {
		lang = "en"
	}
	max := cfg.MaxVideos
	if max <= 0 {
		max = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(base, "/"),
		captionLang: lang,
		maxVideos:   max,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

var channelURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/channel/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`youtube\.com/c/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`youtube\.com/@([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`youtube\.com/user/([a-zA-Z0-9_-]+)`),
}

// ExtractChannelID pulls the channel identifier out of the supported
// channel URL formats.
func ExtractChannelID(channelURL string) (string, error) {
	for _, p := range channelURLPatterns {
		if m := p.FindStringSubmatch(channelURL); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("invalid YouTube channel URL: %s", channelURL)
}

// feed is the subset of the uploads Atom feed we consume.
type feed struct {
	ChannelID string      `xml:"channelId"`
	Title     string      `xml:"title"`
	Author    feedAuthor  `xml:"author"`
	Entries   []feedEntry `xml:"entry"`
}

type feedAuthor struct {
	Name string `xml:"name"`
	URI  string `xml:"uri"`
}

type feedEntry struct {
	VideoID   string     `xml:"videoId"`
	Title     string     `xml:"title"`
	Published string     `xml:"published"`
	Group     mediaGroup `xml:"group"`
}

type mediaGroup struct {
	Description string         `xml:"description"`
	Thumbnail   mediaThumbnail `xml:"thumbnail"`
	Community   mediaCommunity `xml:"community"`
}

type mediaThumbnail struct {
	URL string `xml:"url,attr"`
}

type mediaCommunity struct {
	Statistics mediaStatistics `xml:"statistics"`
}

type mediaStatistics struct {
	Views int64 `xml:"views,attr"`
}

// ChannelInfo resolves a channel URL to validated channel metadata via the
// uploads feed.
func (c *Client) ChannelInfo(ctx context.Context, channelURL string) (Channel, error) {
	channelID, err := ExtractChannelID(channelURL)
	if err != nil {
		return Channel{}, err
	}
	f, err := c.fetchFeed(ctx, channelID)
	if err != nil {
		return Channel{}, err
	}
	name := f.Author.Name
	if name == "" {
		name = f.Title
	}
	if name == "" {
		name = "Unknown Channel"
	}
	thumb := ""
	if len(f.Entries) > 0 {
		thumb = f.Entries[0].Group.Thumbnail.URL
	}
	return Channel{
		ChannelID:    f.ChannelID,
		Name:         name,
		ThumbnailURL: thumb,
		URL:          channelURL,
	}, nil
}

// ChannelVideos lists the channel's most recent uploads, newest first.
func (c *Client) ChannelVideos(ctx context.Context, channelID string, max int) ([]Video, error) {
	if max <= 0 || max > c.maxVideos {
		max = c.maxVideos
	}
	f, err := c.fetchFeed(ctx, channelID)
	if err != nil {
		return nil, err
	}
	videos := make([]Video, 0, len(f.Entries))
	for _, e := range f.Entries {
		if e.VideoID == "" {
			continue
		}
		videos = append(videos, Video{
			VideoID:      e.VideoID,
			Title:        orDefault(e.Title, "Unknown Title"),
			Description:  e.Group.Description,
			ThumbnailURL: e.Group.Thumbnail.URL,
			ViewCount:    e.Group.Community.Statistics.Views,
			PublishedAt:  parseFeedTime(e.Published),
			URL:          WatchURL(e.VideoID),
		})
		if len(videos) >= max {
			break
		}
	}
	return videos, nil
}

// VideoInfo resolves a single video's title and author via oEmbed.
func (c *Client) VideoInfo(ctx context.Context, videoID string) (Video, error) {
	watch := WatchURL(videoID)
	endpoint := fmt.Sprintf("%s/oembed?url=%s&format=json", c.baseURL, url.QueryEscape(watch))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Video{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Video{}, fmt.Errorf("oembed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// oEmbed failing is not fatal for ingestion; callers fall back to a
		// placeholder title like the ingest pipeline does.
		return Video{}, fmt.Errorf("oembed status %d for video %s", resp.StatusCode, videoID)
	}
	var payload struct {
		Title        string `json:"title"`
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Video{}, fmt.Errorf("oembed decode: %w", err)
	}
	return Video{
		VideoID:      videoID,
		Title:        orDefault(payload.Title, "Unknown Title"),
		ThumbnailURL: payload.ThumbnailURL,
		URL:          watch,
	}, nil
}

// Transcript downloads and flattens the video's captions. Returns
// ErrNoTranscript when the caption track is missing or empty.
func (c *Client) Transcript(ctx context.Context, videoID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/timedtext?lang=%s&v=%s&fmt=vtt", c.baseURL, url.QueryEscape(c.captionLang), url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("timedtext request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNoTranscript
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("timedtext status %d for video %s", resp.StatusCode, videoID)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("timedtext read: %w", err)
	}
	text := ParseVTT(string(body))
	if text == "" {
		return "", ErrNoTranscript
	}
	return text, nil
}

func (c *Client) fetchFeed(ctx context.Context, channelID string) (*feed, error) {
	endpoint := fmt.Sprintf("%s/feeds/videos.xml?channel_id=%s", c.baseURL, url.QueryEscape(channelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed status %d for channel %s", resp.StatusCode, channelID)
	}
	var f feed
	if err := xml.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("feed decode: %w", err)
	}
	return &f, nil
}

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

var (
	vttTimestampLine = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}`)
	vttTag           = regexp.MustCompile(`<[^>]+>`)
)

// ParseVTT strips WebVTT headers, cue timings and markup, returning the
// caption text joined with single spaces.
func ParseVTT(content string) string {
	var parts []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "WEBVTT") || strings.Contains(line, "-->") {
			continue
		}
		if vttTimestampLine.MatchString(line) {
			continue
		}
		if clean := vttTag.ReplaceAllString(line, ""); clean != "" {
			parts = append(parts, clean)
		}
	}
	return strings.Join(parts, " ")
}

func parseFeedTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

