// api/models/stats.go
package models

// Totals holds the headline metrics for a date range. PreviousPeriod carries
// the same metrics for the immediately preceding window of equal length when
// a comparison was requested.
type Totals struct {
	UniqueVisitors     int     `json:"uniqueVisitors"`
	PageViews          int     `json:"pageViews"`
	Sessions           int     `json:"sessions"`
	BounceRate         float64 `json:"bounceRate"`
	AvgSessionDuration float64 `json:"avgSessionDuration"`
	PreviousPeriod     *Totals `json:"previousPeriod,omitempty"`
}

// TimeseriesPoint is one zero-filled bucket of a timeseries. Label is the
// bucket's date ("2006-01-02") or hour ("2006-01-02 15:00").
type TimeseriesPoint struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type TopPageResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Count int    `json:"count"`
}

type ReferrerResult struct {
	Host  string `json:"host"`
	Count int    `json:"count"`
}

type CountryResult struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// OSBrowserResult carries three independent frequency maps over the
// server-enriched user-agent fields.
type OSBrowserResult struct {
	OS       map[string]int `json:"os"`
	Browsers map[string]int `json:"browsers"`
	Platform map[string]int `json:"platform"`
}

// HeatmapCell is one weekday (0=Sunday) by UTC-hour bucket of pageviews.
type HeatmapCell struct {
	Weekday int `json:"weekday"`
	Hour    int `json:"hour"`
	Count   int `json:"count"`
}
