// api/store/event_store.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"coursepulse/analytics/database"
	"coursepulse/analytics/models"

	"github.com/google/uuid"
)

// DateLayout is the wire format for start/end query bounds.
const DateLayout = "2006-01-02"

// timeLayout is the fixed-width UTC encoding timestamps are persisted in, so
// range comparisons in SQL stay chronological.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type EventStore struct {
	DB *database.SQLiteClient
}

func NewEventStore(client *database.SQLiteClient) *EventStore {
	return &EventStore{DB: client}
}

// Append persists enriched events. Events are append-only: nothing in the
// store ever updates or deletes an individual row. Each event gets a unique
// event_id if the caller did not set one.
func (s *EventStore) Append(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.DB.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO analytics_events (
			event_id, event_type, timestamp, url, title, referrer, user_agent,
			language, visitor_id, session_id, screen, additional,
			client_generated, client_version, ip_hash, country, os, browser,
			platform, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		if event.EventID == "" {
			event.EventID = uuid.New().String()
		}

		var additional []byte
		if len(event.Additional) > 0 {
			additional, err = json.Marshal(event.Additional)
			if err != nil {
				log.Printf("Error marshalling additional payload (EventID: %s): %v", event.EventID, err)
				additional = nil
			}
		}

		var receivedAt string
		if !event.ReceivedAt.IsZero() {
			receivedAt = event.ReceivedAt.UTC().Format(timeLayout)
		}

		if _, err := stmt.ExecContext(ctx,
			event.EventID,
			event.EventType,
			event.Timestamp.UTC().Format(timeLayout),
			event.URL,
			event.Title,
			event.Referrer,
			event.UserAgent,
			event.Language,
			event.VisitorID,
			event.SessionID,
			event.Screen,
			additional,
			event.ClientGenerated,
			event.ClientVersion,
			event.IPHash,
			event.Country,
			event.OS,
			event.Browser,
			event.Platform,
			receivedAt,
		); err != nil {
			return fmt.Errorf("failed to append event %s: %w", event.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}

	return nil
}

// QueryByDateRange returns every event whose timestamp falls within
// [start 00:00:00, end 23:59:59] UTC inclusive, in insertion order. start and
// end use DateLayout.
func (s *EventStore) QueryByDateRange(ctx context.Context, start, end string) ([]models.Event, error) {
	from, to, err := ParseDateRange(start, end)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.DB.QueryContext(ctx, `
		SELECT event_id, event_type, timestamp, url, title, referrer,
			user_agent, language, visitor_id, session_id, screen, additional,
			client_generated, client_version, ip_hash, country, os, browser,
			platform, received_at
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY id ASC
	`, from.Format(timeLayout), to.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query events by date range: %w", err)
	}
	defer rows.Close()

	var results []models.Event
	for rows.Next() {
		var (
			event      models.Event
			timestamp  string
			additional sql.NullString
			receivedAt sql.NullString
		)
		if err := rows.Scan(
			&event.EventID,
			&event.EventType,
			&timestamp,
			&event.URL,
			&event.Title,
			&event.Referrer,
			&event.UserAgent,
			&event.Language,
			&event.VisitorID,
			&event.SessionID,
			&event.Screen,
			&additional,
			&event.ClientGenerated,
			&event.ClientVersion,
			&event.IPHash,
			&event.Country,
			&event.OS,
			&event.Browser,
			&event.Platform,
			&receivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		// A row that cannot be decoded aborts the query: aggregates must be
		// computed over the complete window or not at all.
		event.Timestamp, err = time.Parse(timeLayout, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored timestamp %q (event %s): %w", timestamp, event.EventID, err)
		}

		if additional.Valid && additional.String != "" {
			if err := json.Unmarshal([]byte(additional.String), &event.Additional); err != nil {
				return nil, fmt.Errorf("failed to unmarshal additional payload (event %s): %w", event.EventID, err)
			}
		}
		if receivedAt.Valid && receivedAt.String != "" {
			event.ReceivedAt, err = time.Parse(timeLayout, receivedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse stored received_at %q (event %s): %w", receivedAt.String, event.EventID, err)
			}
		}

		results = append(results, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during date range query: %w", err)
	}

	return results, nil
}

// PruneOlderThan removes events older than the retention window. Irreversible;
// intended for periodic storage hygiene, not ad-hoc deletes.
func (s *EventStore) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", days)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(timeLayout)
	res, err := s.DB.DB.ExecContext(ctx, `DELETE FROM analytics_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events older than %d days: %w", days, err)
	}

	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	if pruned > 0 {
		log.Printf("Pruned %d analytics events older than %d days.", pruned, days)
	}
	return pruned, nil
}

// ParseDateRange expands start/end dates into the inclusive UTC instant
// bounds [start 00:00:00, end 23:59:59].
func ParseDateRange(start, end string) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(DateLayout, start, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	to, err := time.ParseInLocation(DateLayout, end, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s precedes start date %s", end, start)
	}
	return from, to.Add(24*time.Hour - time.Second), nil
}
