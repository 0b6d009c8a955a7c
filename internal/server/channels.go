package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"

	"github.com/tubewise/tubewise/internal/lexical"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

type ChannelsHandler struct {
	Store     *store.Store
	Source    youtube.Source
	Catalog   *lexical.Catalog
	MaxVideos int
}

func (h *ChannelsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.POST("/analyze", h.analyze)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.remove)
	g.GET("/:id/videos", h.videos)
	g.GET("/:id/videos/available", h.availableVideos)
	g.GET("/:id/videos/:video_id", h.video)
	g.GET("/:id/status", h.status)
}

// analyze previews a channel from the source without persisting it.
func (h *ChannelsHandler) analyze(c echo.Context) error {
	var req AnalyzeChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}
	info, err := h.Source.ChannelInfo(c.Request().Context(), req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, ChannelPreview{
		ChannelID:    info.ChannelID,
		Name:         info.Name,
		Description:  info.Description,
		ThumbnailURL: info.ThumbnailURL,
		URL:          req.URL,
	})
}

func (h *ChannelsHandler) create(c echo.Context) error {
	var req CreateChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}
	if req.RefreshCron != "" && !validCron(req.RefreshCron) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid refresh_cron expression")
	}

	info, err := h.Source.ChannelInfo(c.Request().Context(), req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec := store.ChannelRecord{
		ChannelID:    info.ChannelID,
		Name:         info.Name,
		Description:  info.Description,
		ThumbnailURL: info.ThumbnailURL,
		URL:          req.URL,
		RefreshCron:  req.RefreshCron,
	}
	id, err := h.Store.CreateChannel(c.Request().Context(), rec)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return echo.NewHTTPError(http.StatusConflict, "channel already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	ch, err := h.Store.GetChannel(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, channelResponse(ch))
}

func (h *ChannelsHandler) list(c echo.Context) error {
	channels, err := h.Store.ListChannels(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelResponse(ch))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ChannelsHandler) get(c echo.Context) error {
	ch, err := h.Store.GetChannel(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, channelResponse(ch))
}

func (h *ChannelsHandler) remove(c echo.Context) error {
	id := c.Param("id")
	err := h.Store.DeactivateChannel(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.Catalog != nil {
		h.Catalog.DropChannel(id)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ChannelsHandler) videos(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.Store.GetChannel(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "channel not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	videos, err := h.Store.ListIngestedVideos(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]VideoResponse, 0, len(videos))
	for _, v := range videos {
		out = append(out, videoResponse(v))
	}
	return c.JSON(http.StatusOK, out)
}

// availableVideos lists the channel's recent uploads straight from the
// source feed, regardless of ingestion state.
func (h *ChannelsHandler) availableVideos(c echo.Context) error {
	ch, err := h.Store.GetChannel(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	videos, err := h.Source.ChannelVideos(c.Request().Context(), ch.ChannelID, h.MaxVideos)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	out := make([]SourceVideoResponse, 0, len(videos))
	for _, v := range videos {
		out = append(out, SourceVideoResponse{
			VideoID:      v.VideoID,
			Title:        v.Title,
			ThumbnailURL: v.ThumbnailURL,
			Duration:     v.Duration,
			PublishedAt:  v.PublishedAt,
			URL:          v.URL,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ChannelsHandler) video(c echo.Context) error {
	v, err := h.Store.GetVideoByExternalID(c.Request().Context(), c.Param("video_id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "video not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if v.ChannelID != c.Param("id") {
		return echo.NewHTTPError(http.StatusNotFound, "video not found")
	}
	return c.JSON(http.StatusOK, videoResponse(v))
}

func (h *ChannelsHandler) status(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.Store.GetChannel(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "channel not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	counts, err := h.Store.ChannelIngestionCounts(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ChannelStatusResponse{
		ChannelID:      id,
		TotalVideos:    counts.Total,
		IngestedVideos: counts.Ingested,
	})
}

// validCron accepts @daily/@hourly shorthands or a parseable cron expression.
func validCron(spec string) bool {
	if spec == "@daily" || spec == "@hourly" {
		return true
	}
	_, err := cronexpr.Parse(spec)
	return err == nil
}
