package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snarg/speaker-id/internal/speaker"
)

// GalleryStats provides the collector access to the enrollment store.
type GalleryStats interface {
	Stats() speaker.GalleryStats
}

// EventStats reports events the publisher had to drop.
type EventStats interface {
	Dropped() int64
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	gallery GalleryStats
	pool    *pgxpool.Pool
	events  EventStats

	speakers        *prometheus.Desc
	voiceprints     *prometheus.Desc
	eventsDropped   *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool and events may be nil when Postgres or MQTT are not configured;
// their gauges then report 0.
func NewCollector(gallery GalleryStats, pool *pgxpool.Pool, events EventStats) *Collector {
	return &Collector{
		gallery: gallery,
		pool:    pool,
		events:  events,
		speakers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gallery", "speakers"),
			"Enrolled speakers.",
			nil, nil,
		),
		voiceprints: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gallery", "voiceprints"),
			"Stored voiceprints across all speakers.",
			nil, nil,
		),
		eventsDropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "mqtt", "events_dropped_total"),
			"Events dropped because the publish queue was full.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.speakers
	ch <- c.voiceprints
	ch <- c.eventsDropped
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var stats speaker.GalleryStats
	if c.gallery != nil {
		stats = c.gallery.Stats()
	}
	ch <- prometheus.MustNewConstMetric(c.speakers, prometheus.GaugeValue, float64(stats.Speakers))
	ch <- prometheus.MustNewConstMetric(c.voiceprints, prometheus.GaugeValue, float64(stats.Voiceprints))

	var dropped int64
	if c.events != nil {
		dropped = c.events.Dropped()
	}
	ch <- prometheus.MustNewConstMetric(c.eventsDropped, prometheus.CounterValue, float64(dropped))

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
