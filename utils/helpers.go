package utils

// Timeseries intervals and metrics accepted by the stats API.
const (
	IntervalDay  = "day"
	IntervalHour = "hour"

	MetricPageViews      = "pageViews"
	MetricUniqueVisitors = "uniqueVisitors"
	MetricSessions       = "sessions"
)

func IsValidInterval(interval string) bool {
	switch interval {
	case IntervalDay, IntervalHour:
		return true
	default:
		return false
	}
}

func IsValidMetric(metric string) bool {
	switch metric {
	case MetricPageViews, MetricUniqueVisitors, MetricSessions:
		return true
	default:
		return false
	}
}
