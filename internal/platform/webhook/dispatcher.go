// Package webhook forwards committed ledger events to HTTP endpoints with
// HMAC-SHA256 signed payloads and bounded retries.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsafar/supplychain/internal/domain/ledger"
)

// Endpoint is a delivery destination. Events lists the event types it
// receives; empty means all.
type Endpoint struct {
	URL    string
	Secret string
	Events []string
}

// Delivery records the final outcome of sending one event to one endpoint.
type Delivery struct {
	ID         string           `json:"id"`
	URL        string           `json:"url"`
	EventID    string           `json:"event_id"`
	EventType  ledger.EventType `json:"event_type"`
	StatusCode int              `json:"status_code"`
	Attempts   int              `json:"attempts"`
	Status     string           `json:"status"` // "success" or "failed"
	Error      string           `json:"error,omitempty"`
	Duration   time.Duration    `json:"duration_ns"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ErrQueueFull is returned by Publish when events had to be dropped.
var ErrQueueFull = errors.New("webhook queue full")

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the HMAC-SHA256
// of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetryDelays sets the waits between attempts. The number of delays is
// the number of retries.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelays = delays }
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithDeliveryHook is called once per finished delivery.
func WithDeliveryHook(fn func(Delivery)) Option {
	return func(d *Dispatcher) { d.onDelivery = fn }
}

// Dispatcher implements ledger.Publisher. Publish only enqueues; a single
// worker delivers events in commit order.
type Dispatcher struct {
	endpoints   []Endpoint
	client      *http.Client
	retryDelays []time.Duration
	queueSize   int
	logger      zerolog.Logger
	onDelivery  func(Delivery)

	mu        sync.RWMutex
	closed    bool
	queue     chan ledger.Event
	abort     chan struct{}
	done      chan struct{}
	once      sync.Once
	abortOnce sync.Once
}

// Endpoints builds one endpoint per URL sharing secret and event filter.
func Endpoints(urls []string, secret string, events []string) []Endpoint {
	var out []Endpoint
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		out = append(out, Endpoint{URL: u, Secret: secret, Events: events})
	}
	return out
}

// New validates the endpoints and starts the delivery worker.
func New(endpoints []Endpoint, opts ...Option) (*Dispatcher, error) {
	for _, ep := range endpoints {
		if err := validateURL(ep.URL); err != nil {
			return nil, err
		}
		if ep.Secret == "" {
			return nil, fmt.Errorf("endpoint %s has no secret", ep.URL)
		}
	}

	d := &Dispatcher{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryDelays: []time.Duration{1 * time.Second, 30 * time.Second, 5 * time.Minute},
		queueSize:   1024,
		logger:      zerolog.Nop(),
		abort:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.queue = make(chan ledger.Event, d.queueSize)

	go d.run()
	return d, nil
}

// validateURL checks that the URL is non-empty and uses http or https.
func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// eventMatches returns true if the event type matches a subscription pattern.
// Patterns are exact ("MedicineSold"), "*", or a prefix wildcard ("Medicine*").
func eventMatches(pattern string, eventType ledger.EventType) bool {
	if pattern == "*" || pattern == string(eventType) {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(string(eventType), strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func (ep Endpoint) wants(eventType ledger.EventType) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, pat := range ep.Events {
		if eventMatches(strings.TrimSpace(pat), eventType) {
			return true
		}
	}
	return false
}

// Publish enqueues events for delivery. Events that do not fit the queue are
// dropped and reported with ErrQueueFull.
func (d *Dispatcher) Publish(_ context.Context, events []ledger.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("webhook dispatcher closed")
	}

	dropped := 0
	for _, e := range events {
		select {
		case d.queue <- e:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: dropped %d event(s)", ErrQueueFull, dropped)
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx ends first, pending retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.abortOnce.Do(func() { close(d.abort) })
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, ep := range d.endpoints {
			if !ep.wants(e.Type) {
				continue
			}
			d.deliver(ep, e)
		}
	}
}

// deliver sends e to ep, retrying on transport errors, 429 and 5xx.
func (d *Dispatcher) deliver(ep Endpoint, e ledger.Event) Delivery {
	payload, _ := json.Marshal(e)
	start := time.Now()

	dl := Delivery{
		ID:        uuid.New().String(),
		URL:       ep.URL,
		EventID:   e.ID,
		EventType: e.Type,
		CreatedAt: start.UTC(),
	}

	for attempt := 0; ; attempt++ {
		dl.Attempts = attempt + 1
		code, err := d.post(ep, dl.ID, e, payload)
		dl.StatusCode = code
		if err == nil {
			dl.Status = "success"
			dl.Error = ""
			break
		}
		dl.Status = "failed"
		dl.Error = err.Error()
		if !retryable(code) || attempt >= len(d.retryDelays) {
			break
		}
		if !d.wait(d.retryDelays[attempt]) {
			dl.Error = "aborted: " + dl.Error
			break
		}
	}
	dl.Duration = time.Since(start)

	evt := d.logger.Debug()
	if dl.Status != "success" {
		evt = d.logger.Warn()
	}
	evt.Str("url", dl.URL).
		Str("event_id", dl.EventID).
		Str("event_type", string(dl.EventType)).
		Int("status", dl.StatusCode).
		Int("attempts", dl.Attempts).
		Str("error", dl.Error).
		Msg("webhook delivery")

	if d.onDelivery != nil {
		d.onDelivery(dl)
	}
	return dl
}

// wait sleeps for delay and reports false when Close abandoned retries.
func (d *Dispatcher) wait(delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.abort:
		return false
	}
}

func (d *Dispatcher) post(ep Endpoint, deliveryID string, e ledger.Event, payload []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ledger-Signature", "sha256="+SignPayload(payload, ep.Secret))
	req.Header.Set("X-Ledger-Event", string(e.Type))
	req.Header.Set("X-Ledger-Delivery", deliveryID)
	req.Header.Set("X-Ledger-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
}

func retryable(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= 500
}

var _ ledger.Publisher = (*Dispatcher)(nil)
