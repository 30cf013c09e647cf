package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fixpoint-app/fixpoint/internal/idgen"
	"github.com/fixpoint-app/fixpoint/internal/retry"
)

var (
	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fixpoint",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Total webhook notification deliveries by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(deliveriesTotal)
}

// Subscription is a user-registered webhook endpoint.
type Subscription struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	URL         string     `json:"url"`
	Secret      string     `json:"-"` // HMAC signing key
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// SubscriptionStore persists webhook subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByUser(ctx context.Context, userID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher delivers notifications to a user's registered webhooks.
type Dispatcher struct {
	store  SubscriptionStore
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(store SubscriptionStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Subscribe registers a webhook endpoint for a user and returns the
// subscription with its signing secret generated.
func (d *Dispatcher) Subscribe(ctx context.Context, userID, url string) (*Subscription, string, error) {
	secret := idgen.Hex(24)
	sub := &Subscription{
		ID:        idgen.WithPrefix("sub_"),
		UserID:    userID,
		URL:       url,
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := d.store.Create(ctx, sub); err != nil {
		return nil, "", err
	}
	return sub, secret, nil
}

// List returns a user's webhook subscriptions.
func (d *Dispatcher) List(ctx context.Context, userID string) ([]*Subscription, error) {
	return d.store.GetByUser(ctx, userID)
}

// Unsubscribe removes a subscription owned by the user.
func (d *Dispatcher) Unsubscribe(ctx context.Context, userID, id string) error {
	subs, err := d.store.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.ID == id {
			return d.store.Delete(ctx, id)
		}
	}
	return fmt.Errorf("notify: subscription %s not found", id)
}

// deliveryTimeout bounds a single subscription's delivery including
// retries.
const deliveryTimeout = 30 * time.Second

// Notify delivers the notification to every active subscription of the
// user. Deliveries run in the background so a slow or dead endpoint never
// blocks the caller; failures are recorded on the subscription and
// logged, nothing is surfaced.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	subs, err := d.store.GetByUser(ctx, n.UserID)
	if err != nil {
		d.logger.Warn("notify: load subscriptions failed", "user", n.UserID, "error", err)
		return
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		// The request context is cancelled once the handler returns, so
		// the delivery detaches from it and carries its own deadline.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			defer cancel()
			d.send(dctx, sub, n)
		}(sub)
	}
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, n Notification) {
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return d.deliver(ctx, sub, n)
	})
	if err != nil {
		deliveriesTotal.WithLabelValues("error").Inc()
		sub.LastError = err.Error()
		d.logger.Warn("notify: delivery failed", "user", n.UserID, "url", sub.URL, "error", err)
	} else {
		deliveriesTotal.WithLabelValues("ok").Inc()
		now := time.Now()
		sub.LastSuccess = &now
		sub.LastError = ""
	}
	_ = d.store.Update(ctx, sub)
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, n Notification) error {
	payload, err := json.Marshal(map[string]any{
		"id":        idgen.WithPrefix("evt_"),
		"timestamp": time.Now().UTC(),
		"notification": map[string]any{
			"userId":   n.UserID,
			"title":    n.Title,
			"message":  n.Message,
			"type":     n.Type,
			"metadata": n.Metadata,
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fixpoint-Signature", sign(sub.Secret, payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The endpoint rejected the payload; retrying won't help.
		return retry.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
