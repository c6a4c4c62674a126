// api/handlers/stats_handlers.go
package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"coursepulse/analytics/store"
	"coursepulse/analytics/utils"

	"github.com/gin-gonic/gin"
)

type StatsHandlers struct {
	Stats *store.StatsEngine
}

func NewStatsHandlers(engine *store.StatsEngine) *StatsHandlers {
	return &StatsHandlers{Stats: engine}
}

// dateRangeParams reads start/end query params (YYYY-MM-DD), defaulting to
// the last 7 days. A malformed or reversed range is rejected here with a 400,
// so an engine failure further down is always a read failure (500).
func dateRangeParams(c *gin.Context) (string, string, bool) {
	start := c.Query("start")
	end := c.Query("end")
	if end == "" {
		end = time.Now().UTC().Format(store.DateLayout)
	}
	if start == "" {
		start = time.Now().UTC().AddDate(0, 0, -6).Format(store.DateLayout)
		log.Printf("No 'start' date provided, defaulting to 7 days ago: %s", start)
	}
	if _, _, err := store.ParseDateRange(start, end); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date range: " + err.Error()})
		return "", "", false
	}
	return start, end, true
}

func limitParam(c *gin.Context) (int, bool) {
	limit := 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func statsContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}

func (h *StatsHandlers) GetTotals(c *gin.Context) {
	start, end, ok := dateRangeParams(c)
	if !ok {
		return
	}
	compare := c.Query("compare") == "true"

	ctx, cancel := statsContext(c)
	defer cancel()

	totals, err := h.Stats.GetTotals(ctx, start, end, compare)
	if err != nil {
		log.Printf("Error getting totals: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve totals"})
		return
	}

	c.JSON(http.StatusOK, totals)
}

func (h *StatsHandlers) GetTimeseries(c *gin.Context) {
	metric := c.DefaultQuery("metric", utils.MetricPageViews)
	interval := c.DefaultQuery("interval", utils.IntervalDay)
	if !utils.IsValidMetric(metric) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'metric' parameter (pageViews, uniqueVisitors, sessions)"})
		return
	}
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'interval' parameter (day, hour)"})
		return
	}
	start, end, ok := dateRangeParams(c)
	if !ok {
		return
	}

	ctx, cancel := statsContext(c)
	defer cancel()

	series, err := h.Stats.GetTimeseries(ctx, metric, interval, start, end)
	if err != nil {
		log.Printf("Error getting timeseries: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve timeseries"})
		return
	}

	c.JSON(http.StatusOK, series)
}

func (h *StatsHandlers) GetTopPages(c *gin.Context) {
	start, end, ok := dateRangeParams(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	ctx, cancel := statsContext(c)
	defer cancel()

	results, err := h.Stats.GetTopPages(ctx, start, end, limit)
	if err != nil {
		log.Printf("Error getting top pages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top pages"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetReferrers(c *gin.Context) {
	start, end, ok := dateRangeParams(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	ctx, cancel := statsContext(c)
	defer cancel()

	results, err := h.Stats.GetReferrers(ctx, start, end, limit)
	if err != nil {
		log.Printf("Error getting referrers: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve referrers"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetOSBrowsers(c *gin.Context) {
	start, end, ok := dateRangeParams(c)
	if !ok {
		return
	}

	ctx, cancel := statsContext(c)
	defer cancel()

	results, err := h.Stats.GetOSBrowsers(ctx, start, end)
	if err != nil {
		log.Printf("Error getting os/browser breakdown: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve os/browser breakdown"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetCountries(c *gin.Context) {
	start, end, ok := dateRangeParams(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	ctx, cancel := statsContext(c)
	defer cancel()

	results, err := h.Stats.GetCountries(ctx, start, end, limit)
	if err != nil {
		log.Printf("Error getting countries: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve countries"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetHeatmap(c *gin.Context) {
	start, end, ok := dateRangeParams(c)
	if !ok {
		return
	}

	ctx, cancel := statsContext(c)
	defer cancel()

	results, err := h.Stats.GetHeatmap(ctx, start, end)
	if err != nil {
		log.Printf("Error getting heatmap: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve heatmap"})
		return
	}

	c.JSON(http.StatusOK, results)
}
