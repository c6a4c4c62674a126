package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"coursepulse/analytics/models"
	"coursepulse/analytics/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureSource serves canned events filtered by the requested window,
// standing in for the event store.
type fixtureSource struct {
	events []models.Event
}

func (f *fixtureSource) QueryByDateRange(_ context.Context, start, end string) ([]models.Event, error) {
	from, to, err := ParseDateRange(start, end)
	if err != nil {
		return nil, err
	}
	var out []models.Event
	for _, e := range f.events {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func pv(visitorID, sessionID, url, title string, ts time.Time) models.Event {
	return models.Event{
		EventType: models.EventTypePageview,
		Timestamp: ts,
		URL:       url,
		Title:     title,
		VisitorID: visitorID,
		SessionID: sessionID,
	}
}

func TestTotalsBounceRateAllSingle(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	src := &fixtureSource{}
	for i := 0; i < 5; i++ {
		src.events = append(src.events, pv(fmt.Sprintf("V%d", i), fmt.Sprintf("S%d", i), "/a", "", ts))
	}

	totals, err := NewStatsEngine(src).GetTotals(context.Background(), "2024-01-01", "2024-01-01", false)
	require.NoError(t, err)
	assert.Equal(t, 5, totals.Sessions)
	assert.Equal(t, float64(100), totals.BounceRate)
}

func TestTotalsBounceRateAllDouble(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	src := &fixtureSource{}
	for i := 0; i < 5; i++ {
		session := fmt.Sprintf("S%d", i)
		src.events = append(src.events,
			pv("V1", session, "/a", "", ts),
			pv("V1", session, "/b", "", ts.Add(time.Minute)),
		)
	}

	totals, err := NewStatsEngine(src).GetTotals(context.Background(), "2024-01-01", "2024-01-01", false)
	require.NoError(t, err)
	assert.Equal(t, float64(0), totals.BounceRate)
}

func TestTotalsSingleSessionScenario(t *testing.T) {
	// Two pageviews in one session, five minutes apart.
	src := &fixtureSource{events: []models.Event{
		pv("V1", "S1", "/courses", "", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
		pv("V1", "S1", "/pricing", "", time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)),
	}}

	totals, err := NewStatsEngine(src).GetTotals(context.Background(), "2024-01-01", "2024-01-01", false)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Sessions)
	assert.Equal(t, 2, totals.PageViews)
	assert.Equal(t, 1, totals.UniqueVisitors)
	assert.Equal(t, float64(0), totals.BounceRate)
	assert.Equal(t, float64(300), totals.AvgSessionDuration)
}

func TestTotalsComparePreviousPeriod(t *testing.T) {
	src := &fixtureSource{events: []models.Event{
		// Previous window: Jan 1-3.
		pv("V1", "S1", "/a", "", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)),
		// Current window: Jan 4-6.
		pv("V2", "S2", "/a", "", time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)),
		pv("V3", "S3", "/a", "", time.Date(2024, 1, 5, 11, 0, 0, 0, time.UTC)),
	}}

	totals, err := NewStatsEngine(src).GetTotals(context.Background(), "2024-01-04", "2024-01-06", true)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.PageViews)
	require.NotNil(t, totals.PreviousPeriod)
	assert.Equal(t, 1, totals.PreviousPeriod.PageViews)
	assert.Nil(t, totals.PreviousPeriod.PreviousPeriod)
}

func TestTimeseriesZeroFillsEveryDay(t *testing.T) {
	src := &fixtureSource{events: []models.Event{
		pv("V1", "S1", "/a", "", time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)),
	}}

	series, err := NewStatsEngine(src).GetTimeseries(context.Background(),
		utils.MetricPageViews, utils.IntervalDay, "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	require.Len(t, series, 5)

	for i, point := range series {
		assert.Equal(t, fmt.Sprintf("2024-01-0%d", i+1), point.Label)
	}
	assert.Equal(t, 0, series[0].Count)
	assert.Equal(t, 1, series[2].Count)
	assert.Equal(t, 0, series[4].Count)
}

func TestTimeseriesHourlyBuckets(t *testing.T) {
	src := &fixtureSource{events: []models.Event{
		pv("V1", "S1", "/a", "", time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)),
		pv("V1", "S1", "/b", "", time.Date(2024, 1, 1, 10, 45, 0, 0, time.UTC)),
	}}

	series, err := NewStatsEngine(src).GetTimeseries(context.Background(),
		utils.MetricPageViews, utils.IntervalHour, "2024-01-01", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, series, 24)
	assert.Equal(t, "2024-01-01 10:00", series[10].Label)
	assert.Equal(t, 2, series[10].Count)
}

func TestTimeseriesVisitorMetricCountsEventsNotDistinctIDs(t *testing.T) {
	// Three events from the same visitor on one day: the bucket reports 3,
	// not 1. Dashboards depend on these numbers; see DESIGN.md.
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	src := &fixtureSource{events: []models.Event{
		pv("V1", "S1", "/a", "", ts),
		pv("V1", "S1", "/b", "", ts.Add(time.Minute)),
		pv("V1", "S1", "/c", "", ts.Add(2*time.Minute)),
	}}

	series, err := NewStatsEngine(src).GetTimeseries(context.Background(),
		utils.MetricUniqueVisitors, utils.IntervalDay, "2024-01-01", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 3, series[0].Count)
}

func TestTimeseriesRejectsUnknownMetricAndInterval(t *testing.T) {
	engine := NewStatsEngine(&fixtureSource{})

	_, err := engine.GetTimeseries(context.Background(), "revenue", utils.IntervalDay, "2024-01-01", "2024-01-01")
	assert.Error(t, err)

	_, err = engine.GetTimeseries(context.Background(), utils.MetricPageViews, "week", "2024-01-01", "2024-01-01")
	assert.Error(t, err)
}

func TestTopPagesSortsAndTruncates(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	src := &fixtureSource{}
	// /a: 3 views titled "A", /b: 5 views, /a: 1 more view titled "X".
	for i := 0; i < 3; i++ {
		src.events = append(src.events, pv("V1", "S1", "/a", "A", ts))
	}
	for i := 0; i < 5; i++ {
		src.events = append(src.events, pv("V1", "S1", "/b", "B", ts))
	}
	src.events = append(src.events, pv("V1", "S1", "/a", "X", ts))

	results, err := NewStatsEngine(src).GetTopPages(context.Background(), "2024-01-01", "2024-01-01", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/b", results[0].URL)
	assert.Equal(t, 5, results[0].Count)

	// Unlimited: /a carries the most recently seen title.
	all, err := NewStatsEngine(src).GetTopPages(context.Background(), "2024-01-01", "2024-01-01", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "/a", all[1].URL)
	assert.Equal(t, 4, all[1].Count)
	assert.Equal(t, "X", all[1].Title)
}

func TestReferrersSkipUnparseableEntries(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	referrers := []string{"https://google.com/search", "not-a-url", "https://google.com/x"}
	src := &fixtureSource{}
	for _, ref := range referrers {
		e := pv("V1", "S1", "/a", "", ts)
		e.Referrer = ref
		src.events = append(src.events, e)
	}

	results, err := NewStatsEngine(src).GetReferrers(context.Background(), "2024-01-01", "2024-01-01", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "google.com", results[0].Host)
	assert.Equal(t, 2, results[0].Count)
}

func TestOSBrowsersIndependentTallies(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	e1 := pv("V1", "S1", "/a", "", ts)
	e1.OS, e1.Browser, e1.Platform = "macOS", "Firefox", "desktop"
	e2 := pv("V2", "S2", "/a", "", ts)
	e2.OS, e2.Browser, e2.Platform = "macOS", "Safari", "desktop"

	result, err := NewStatsEngine(&fixtureSource{events: []models.Event{e1, e2}}).
		GetOSBrowsers(context.Background(), "2024-01-01", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 2, result.OS["macOS"])
	assert.Equal(t, 1, result.Browsers["Firefox"])
	assert.Equal(t, 1, result.Browsers["Safari"])
	assert.Equal(t, 2, result.Platform["desktop"])
}

func TestCountriesSortedDescending(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	src := &fixtureSource{}
	for i, country := range []string{"DE", "US", "US", "FR", "US", "DE"} {
		e := pv(fmt.Sprintf("V%d", i), fmt.Sprintf("S%d", i), "/a", "", ts)
		e.Country = country
		src.events = append(src.events, e)
	}

	results, err := NewStatsEngine(src).GetCountries(context.Background(), "2024-01-01", "2024-01-01", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.CountryResult{Country: "US", Count: 3}, results[0])
	assert.Equal(t, models.CountryResult{Country: "DE", Count: 2}, results[1])
}

func TestHeatmapZeroInitializedBuckets(t *testing.T) {
	// 2024-01-01 is a Monday (weekday 1).
	src := &fixtureSource{events: []models.Event{
		pv("V1", "S1", "/a", "", time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC)),
		pv("V1", "S1", "/b", "", time.Date(2024, 1, 1, 14, 50, 0, 0, time.UTC)),
	}}

	cells, err := NewStatsEngine(src).GetHeatmap(context.Background(), "2024-01-01", "2024-01-07")
	require.NoError(t, err)
	require.Len(t, cells, 7*24)

	total := 0
	for _, cell := range cells {
		total += cell.Count
		if cell.Weekday == 1 && cell.Hour == 14 {
			assert.Equal(t, 2, cell.Count)
		}
	}
	assert.Equal(t, 2, total)
}
