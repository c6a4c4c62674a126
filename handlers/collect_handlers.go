// api/handlers/collect_handlers.go
package handlers

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"coursepulse/analytics/models"
	"coursepulse/analytics/store"
	"coursepulse/analytics/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxBatchSize caps a single collect request. The client flushes well below
// this; anything larger is abuse or a bug.
const MaxBatchSize = 500

type CollectHandlers struct {
	EventStore *store.EventStore
	Countries  utils.CountryResolver
}

func NewCollectHandlers(s *store.EventStore, countries utils.CountryResolver) *CollectHandlers {
	if countries == nil {
		countries = utils.HeaderCountryResolver{}
	}
	return &CollectHandlers{
		EventStore: s,
		Countries:  countries,
	}
}

// Collect receives a batch of client events, enriches each one and appends
// the batch to the event store. A store failure returns 500 so the client's
// at-least-once retry keeps the batch; duplicate delivery is accepted.
func (h *CollectHandlers) Collect(c *gin.Context) {
	var req models.CollectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Error binding incoming collect JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if len(req.Events) == 0 {
		c.Status(http.StatusOK)
		return
	}
	if len(req.Events) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Batch too large"})
		return
	}

	ip := c.ClientIP()
	country := h.Countries.Country(c.Request, ip)
	receivedAt := time.Now().UTC()
	secret := os.Getenv("IP_HASH_SECRET")

	eventsToInsert := make([]models.Event, 0, len(req.Events))
	for _, event := range req.Events {
		if !models.ValidEventType(event.EventType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown event type: " + event.EventType})
			return
		}

		event.EventID = uuid.New().String()
		event.IPHash = utils.HashIP(ip, secret)
		event.Country = country
		event.OS, event.Browser, event.Platform = utils.ParseUserAgent(event.UserAgent)
		event.ReceivedAt = receivedAt

		eventsToInsert = append(eventsToInsert, event)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.EventStore.Append(ctx, eventsToInsert); err != nil {
		log.Printf("Error appending analytics events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record analytics events"})
		return
	}

	c.Status(http.StatusOK)
}
