package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(galleryEventsDropped, galleryItems) }

var galleryEventsDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "studio_gallery_events_dropped_total",
		Help: "Gallery events not delivered because a subscriber buffer was full.",
	},
)

var galleryItems = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "studio_gallery_items",
		Help: "Gallery items by status.",
	},
	[]string{"status"},
)

func IncGalleryEventDropped() {
	galleryEventsDropped.Inc()
}

func SetGalleryItems(status string, n int) {
	galleryItems.WithLabelValues(norm(status)).Set(float64(n))
}
