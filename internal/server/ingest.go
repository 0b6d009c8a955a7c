package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tubewise/tubewise/internal/ingest"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

type IngestHandler struct {
	Store     *store.Store
	Source    youtube.Source
	Pipeline  *ingest.Pipeline
	Jobs      *JobTracker
	MaxVideos int
}

func (h *IngestHandler) Register(g *echo.Group) {
	g.POST("/:id/ingest", h.start)
}

// start kicks off an asynchronous ingestion run for a channel. The response
// carries a job id; progress is polled via /api/jobs/:id.
func (h *IngestHandler) start(c echo.Context) error {
	channelID := c.Param("id")
	ch, err := h.Store.GetChannel(c.Request().Context(), channelID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Max <= 0 || req.Max > h.MaxVideos {
		req.Max = h.MaxVideos
	}

	videoIDs := req.VideoIDs
	if len(videoIDs) == 0 {
		videos, err := h.Source.ChannelVideos(c.Request().Context(), ch.ChannelID, req.Max)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, "list channel videos: "+err.Error())
		}
		for _, v := range videos {
			videoIDs = append(videoIDs, v.VideoID)
		}
	}
	if len(videoIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no videos to ingest")
	}

	ok, release := h.Jobs.TryLock(c.Request().Context(), channelID)
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "ingestion already running for channel")
	}

	jobID := uuid.NewString()
	h.Jobs.Set(c.Request().Context(), JobStatus{
		JobID:     jobID,
		ChannelID: channelID,
		State:     "running",
		Videos:    len(videoIDs),
	})

	// Fire and forget: the request context dies with the response, so the
	// background run gets its own.
	go func() {
		defer release()
		ctx := context.Background()
		report := h.Pipeline.IngestVideos(ctx, channelID, videoIDs)
		report.JobID = jobID
		h.Jobs.Set(ctx, JobStatus{
			JobID:     jobID,
			ChannelID: channelID,
			State:     "completed",
			Videos:    len(videoIDs),
			Report:    &report,
		})
		if failed := report.Failed(); len(failed) > 0 {
			log.Printf("[INGEST] job %s finished with %d failures", jobID, len(failed))
		}
	}()

	return c.JSON(http.StatusAccepted, IngestAccepted{
		JobID:     jobID,
		ChannelID: channelID,
		Videos:    len(videoIDs),
	})
}
