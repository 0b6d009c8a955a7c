package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tubewise/tubewise/internal/chat"
	"github.com/tubewise/tubewise/internal/lexical"
	"github.com/tubewise/tubewise/internal/store"
)

type ChatHandler struct {
	Store   *store.Store
	Chat    *chat.Service
	Catalog *lexical.Catalog
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/:id/chat", h.ask)
	g.POST("/:id/similar", h.similar)
	g.POST("/:id/study-guide", h.studyGuide)
	g.GET("/:id/summary", h.summary)
	g.GET("/:id/search", h.search)
}

func (h *ChatHandler) requireChannel(c echo.Context) (string, error) {
	id := c.Param("id")
	if _, err := h.Store.GetChannel(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", echo.NewHTTPError(http.StatusNotFound, "channel not found")
		}
		return "", echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return id, nil
}

func (h *ChatHandler) ask(c echo.Context) error {
	id, err := h.requireChannel(c)
	if err != nil {
		return err
	}
	var req ChatRequest
	if err := c.Bind(&req); err != nil || req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	answer, err := h.Chat.Ask(c.Request().Context(), id, req.Question)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, answer)
}

// similar runs raw nearest-passage retrieval with no synthesis.
func (h *ChatHandler) similar(c echo.Context) error {
	id, err := h.requireChannel(c)
	if err != nil {
		return err
	}
	var req SimilarSearchRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	sources, err := h.Chat.Search(c.Request().Context(), id, req.Query, req.K)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, sources)
}

func (h *ChatHandler) studyGuide(c echo.Context) error {
	id, err := h.requireChannel(c)
	if err != nil {
		return err
	}
	var req StudyGuideRequest
	if err := c.Bind(&req); err != nil || req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic required")
	}
	guide, err := h.Chat.StudyGuide(c.Request().Context(), id, req.Topic)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, guide)
}

func (h *ChatHandler) summary(c echo.Context) error {
	id, err := h.requireChannel(c)
	if err != nil {
		return err
	}
	summary, err := h.Chat.Summarize(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, SummaryResponse{Summary: summary})
}

// search is exact keyword search over ingested transcripts, complementing the
// semantic chat endpoint.
func (h *ChatHandler) search(c echo.Context) error {
	id, err := h.requireChannel(c)
	if err != nil {
		return err
	}
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	k, _ := strconv.Atoi(c.QueryParam("k"))
	hits, err := h.Catalog.Search(id, q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []lexical.Hit{}
	}
	return c.JSON(http.StatusOK, hits)
}
