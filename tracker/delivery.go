// tracker/delivery.go
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"coursepulse/analytics/models"
)

const (
	DefaultFlushInterval = 10 * time.Second
	DefaultBatchSize     = 10
)

// Transport delivers a batch and reports whether the endpoint accepted it.
// Any error (network, timeout, non-2xx) means the batch must be retried.
type Transport interface {
	Send(ctx context.Context, events []models.Event) error
}

// Beacon is the fire-and-forget teardown path: a send that is guaranteed to
// be attempted even while the process is shutting down, with no completion
// signal and no way to cancel once issued.
type Beacon interface {
	SendBeacon(events []models.Event)
}

// HTTPTransport posts batches to the collection endpoint as JSON. It
// implements both the awaited path and the beacon path.
type HTTPTransport struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, events []models.Event) error {
	body, err := json.Marshal(models.CollectRequest{Events: events})
	if err != nil {
		return fmt.Errorf("failed to marshal event batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build collect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("collect request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collect endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// SendBeacon attempts one synchronous delivery with a short deadline and
// discards the result. The attempt is made before returning; completion is
// not guaranteed and the caller never learns the outcome.
func (t *HTTPTransport) SendBeacon(events []models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := t.Send(ctx, events); err != nil {
		log.Printf("Beacon delivery attempt did not confirm: %v", err)
	}
}

// DeliveryEngine decides when to flush the queue: on a periodic timer, when
// the queue reaches the batch threshold, and on teardown via the beacon path.
type DeliveryEngine struct {
	queue     *EventQueue
	transport Transport
	beacon    Beacon
	interval  time.Duration
	batchSize int

	flushMu sync.Mutex
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	startMu sync.Mutex
	running bool
}

func NewDeliveryEngine(queue *EventQueue, transport Transport, beacon Beacon, interval time.Duration, batchSize int) *DeliveryEngine {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &DeliveryEngine{
		queue:     queue,
		transport: transport,
		beacon:    beacon,
		interval:  interval,
		batchSize: batchSize,
		kick:      make(chan struct{}, 1),
	}
}

// Start launches the periodic flush loop. Idempotent.
func (e *DeliveryEngine) Start() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(e.stop, e.done)
}

// Stop cancels the periodic timer deterministically. An in-flight beacon
// attempt, if any, is not cancellable.
func (e *DeliveryEngine) Stop() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stop)
	<-e.done
}

func (e *DeliveryEngine) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-e.kick:
		case <-stop:
			return
		}
		if err := e.Flush(context.Background()); err != nil {
			log.Printf("Flush attempt failed, batch restored for retry: %v", err)
		}
	}
}

// NotifyEnqueue triggers an immediate flush once the queue reaches the batch
// threshold. Non-blocking; producers are never back-pressured.
func (e *DeliveryEngine) NotifyEnqueue() {
	if e.queue.Len() < e.batchSize {
		return
	}
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Flush drains the queue and delivers the batch. On any transport failure the
// drained events are restored so the next trigger retries them: at-least-once
// delivery, dedup left to the server. Flushes are serialized so a retry can
// never interleave with a fresh drain; events enqueued mid-flight stay queued
// for the next trigger.
func (e *DeliveryEngine) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	batch := e.queue.Drain()
	if len(batch) == 0 {
		return nil
	}

	if err := e.transport.Send(ctx, batch); err != nil {
		e.queue.Restore(batch)
		return err
	}
	return nil
}

// FlushFinal is the teardown path: it drains whatever is queued, appends the
// synthesized final events, and hands the batch to the beacon. Nothing is
// restored; teardown delivery is best-effort.
func (e *DeliveryEngine) FlushFinal(finalEvents []models.Event) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	batch := append(e.queue.Drain(), finalEvents...)
	if len(batch) == 0 {
		return
	}
	e.beacon.SendBeacon(batch)
}
