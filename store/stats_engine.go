// api/store/stats_engine.go
package store

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"coursepulse/analytics/models"
	"coursepulse/analytics/utils"
)

// EventSource is the read side of the event log the stats engine aggregates
// over. *EventStore satisfies it; tests substitute a fixture.
type EventSource interface {
	QueryByDateRange(ctx context.Context, start, end string) ([]models.Event, error)
}

// StatsEngine computes derived metrics from the raw event log. Every
// operation is read-only: it queries one date window and folds over the
// events in memory, returning either a complete result or an error.
type StatsEngine struct {
	Events EventSource
}

func NewStatsEngine(source EventSource) *StatsEngine {
	return &StatsEngine{Events: source}
}

// GetTotals computes the headline metrics for [start, end]. With compare set,
// it also computes the immediately preceding period of equal length (ending
// the day before start) and attaches it as PreviousPeriod.
func (e *StatsEngine) GetTotals(ctx context.Context, start, end string, compare bool) (*models.Totals, error) {
	events, err := e.Events.QueryByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for totals: %w", err)
	}

	totals := computeTotals(events)

	if compare {
		prevStart, prevEnd, err := previousPeriod(start, end)
		if err != nil {
			return nil, err
		}
		prevEvents, err := e.Events.QueryByDateRange(ctx, prevStart, prevEnd)
		if err != nil {
			return nil, fmt.Errorf("failed to load events for comparison period: %w", err)
		}
		prev := computeTotals(prevEvents)
		totals.PreviousPeriod = &prev
	}

	return &totals, nil
}

func computeTotals(events []models.Event) models.Totals {
	visitors := make(map[string]struct{})
	type sessionAgg struct {
		pageviews int
		events    int
		first     time.Time
		last      time.Time
	}
	sessions := make(map[string]*sessionAgg)

	var totals models.Totals
	for _, event := range events {
		if event.VisitorID != "" {
			visitors[event.VisitorID] = struct{}{}
		}
		if event.EventType == models.EventTypePageview {
			totals.PageViews++
		}
		if event.SessionID == "" {
			continue
		}
		agg, ok := sessions[event.SessionID]
		if !ok {
			agg = &sessionAgg{first: event.Timestamp, last: event.Timestamp}
			sessions[event.SessionID] = agg
		}
		agg.events++
		if event.EventType == models.EventTypePageview {
			agg.pageviews++
		}
		if event.Timestamp.Before(agg.first) {
			agg.first = event.Timestamp
		}
		if event.Timestamp.After(agg.last) {
			agg.last = event.Timestamp
		}
	}

	totals.UniqueVisitors = len(visitors)
	totals.Sessions = len(sessions)

	bounced := 0
	durationSum := 0.0
	measured := 0
	for _, agg := range sessions {
		if agg.pageviews == 1 {
			bounced++
		}
		if agg.events >= 2 {
			durationSum += agg.last.Sub(agg.first).Seconds()
			measured++
		}
	}
	if totals.Sessions > 0 {
		totals.BounceRate = float64(bounced) / float64(totals.Sessions) * 100
	}
	if measured > 0 {
		totals.AvgSessionDuration = durationSum / float64(measured)
	}

	return totals
}

// previousPeriod returns the non-overlapping window of equal length ending
// the day before start.
func previousPeriod(start, end string) (string, string, error) {
	from, to, err := ParseDateRange(start, end)
	if err != nil {
		return "", "", err
	}
	days := int(to.Sub(from).Hours()/24) + 1
	prevEnd := from.AddDate(0, 0, -1)
	prevStart := from.AddDate(0, 0, -days)
	return prevStart.Format(DateLayout), prevEnd.Format(DateLayout), nil
}

// GetTimeseries produces a zero-filled series over every day (or hour) in the
// range for the given metric.
//
// For uniqueVisitors and sessions each bucket counts events carrying the
// respective id rather than distinct ids, matching the dashboard's historical
// numbers. See DESIGN.md before changing this.
func (e *StatsEngine) GetTimeseries(ctx context.Context, metric, interval, start, end string) ([]models.TimeseriesPoint, error) {
	if !utils.IsValidMetric(metric) {
		return nil, fmt.Errorf("invalid metric: %s", metric)
	}
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	from, to, err := ParseDateRange(start, end)
	if err != nil {
		return nil, err
	}

	var (
		step   time.Duration
		layout string
	)
	switch interval {
	case utils.IntervalHour:
		step = time.Hour
		layout = "2006-01-02 15:00"
	default:
		step = 24 * time.Hour
		layout = DateLayout
	}

	var points []models.TimeseriesPoint
	index := make(map[string]int)
	for t := from; !t.After(to); t = t.Add(step) {
		label := t.Format(layout)
		index[label] = len(points)
		points = append(points, models.TimeseriesPoint{Label: label})
	}

	events, err := e.Events.QueryByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for timeseries: %w", err)
	}

	for _, event := range events {
		switch metric {
		case utils.MetricPageViews:
			if event.EventType != models.EventTypePageview {
				continue
			}
		case utils.MetricUniqueVisitors:
			if event.VisitorID == "" {
				continue
			}
		case utils.MetricSessions:
			if event.SessionID == "" {
				continue
			}
		}
		if i, ok := index[event.Timestamp.UTC().Truncate(step).Format(layout)]; ok {
			points[i].Count++
		}
	}

	return points, nil
}

// GetTopPages counts pageview events grouped by URL, carrying the
// most-recently-seen title for each URL, sorted descending and truncated.
func (e *StatsEngine) GetTopPages(ctx context.Context, start, end string, limit int) ([]models.TopPageResult, error) {
	events, err := e.Events.QueryByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for top pages: %w", err)
	}

	counts := make(map[string]int)
	titles := make(map[string]string)
	for _, event := range events {
		if event.EventType != models.EventTypePageview {
			continue
		}
		counts[event.URL]++
		if event.Title != "" {
			titles[event.URL] = event.Title
		}
	}

	results := make([]models.TopPageResult, 0, len(counts))
	for u, count := range counts {
		results = append(results, models.TopPageResult{URL: u, Title: titles[u], Count: count})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].URL < results[j].URL
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetReferrers groups pageview referrers by hostname. Referrer strings that
// do not parse as URLs (or carry no hostname) are skipped, not errored.
func (e *StatsEngine) GetReferrers(ctx context.Context, start, end string, limit int) ([]models.ReferrerResult, error) {
	events, err := e.Events.QueryByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for referrers: %w", err)
	}

	counts := make(map[string]int)
	for _, event := range events {
		if event.EventType != models.EventTypePageview || event.Referrer == "" {
			continue
		}
		parsed, err := url.Parse(event.Referrer)
		if err != nil || parsed.Hostname() == "" {
			continue
		}
		counts[parsed.Hostname()]++
	}

	results := make([]models.ReferrerResult, 0, len(counts))
	for host, count := range counts {
		results = append(results, models.ReferrerResult{Host: host, Count: count})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Host < results[j].Host
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetOSBrowsers tallies the server-enriched os/browser/platform fields into
// three independent frequency maps.
func (e *StatsEngine) GetOSBrowsers(ctx context.Context, start, end string) (*models.OSBrowserResult, error) {
	events, err := e.Events.QueryByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for os/browser breakdown: %w", err)
	}

	result := &models.OSBrowserResult{
		OS:       make(map[string]int),
		Browsers: make(map[string]int),
		Platform: make(map[string]int),
	}
	for _, event := range events {
		if event.OS != "" {
			result.OS[event.OS]++
		}
		if event.Browser != "" {
			result.Browsers[event.Browser]++
		}
		if event.Platform != "" {
			result.Platform[event.Platform]++
		}
	}
	return result, nil
}

// GetCountries tallies the enriched country field, sorted descending and
// truncated to limit.
func (e *StatsEngine) GetCountries(ctx context.Context, start, end string, limit int) ([]models.CountryResult, error) {
	events, err := e.Events.QueryByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for countries: %w", err)
	}

	counts := make(map[string]int)
	for _, event := range events {
		if event.Country != "" {
			counts[event.Country]++
		}
	}

	results := make([]models.CountryResult, 0, len(counts))
	for country, count := range counts {
		results = append(results, models.CountryResult{Country: country, Count: count})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Country < results[j].Country
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetHeatmap returns all 7x24 weekday-by-UTC-hour buckets, zero-initialized,
// incremented per pageview event.
func (e *StatsEngine) GetHeatmap(ctx context.Context, start, end string) ([]models.HeatmapCell, error) {
	events, err := e.Events.QueryByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for heatmap: %w", err)
	}

	cells := make([]models.HeatmapCell, 0, 7*24)
	for weekday := 0; weekday < 7; weekday++ {
		for hour := 0; hour < 24; hour++ {
			cells = append(cells, models.HeatmapCell{Weekday: weekday, Hour: hour})
		}
	}

	for _, event := range events {
		if event.EventType != models.EventTypePageview {
			continue
		}
		ts := event.Timestamp.UTC()
		cells[int(ts.Weekday())*24+ts.Hour()].Count++
	}

	return cells, nil
}
