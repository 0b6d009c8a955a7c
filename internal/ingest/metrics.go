package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	videosIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tubewise_videos_ingested_total",
		Help: "Number of videos fully ingested.",
	})
	videosFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tubewise_videos_failed_total",
		Help: "Number of videos that failed ingestion.",
	})
	passagesEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tubewise_passages_embedded_total",
		Help: "Number of transcript passages embedded and stored.",
	})
)
