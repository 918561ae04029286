package notify

import (
	"context"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"iv-monitor-backend/config"
	"iv-monitor-backend/internal/store"
)

// NetworkMode is the process-wide connectivity state. Every outbound
// notification checks the current mode; it is never silently assumed.
type NetworkMode string

const (
	ModeOnline    NetworkMode = "online"
	ModeLocalOnly NetworkMode = "local_only"
)

// Gateway owns the network mode and the one-shot message dispatch. All mode
// mutation happens on the monitoring loop's thread.
type Gateway struct {
	cfg     config.NotifyConfig
	pool    *WorkerPool
	probe   *http.Client
	mode    NetworkMode
	enabled bool
}

// NewGateway builds the gateway from configuration and secrets. Without
// credentials or recipients the gateway is permanently local-only.
func NewGateway(cfg config.NotifyConfig, secrets *config.Secrets, poolSize int, st store.Store) *Gateway {
	enabled := secrets.SMSAPIKey != "" && len(secrets.SMSRecipients) > 0

	var sms SMSSender
	if enabled {
		sms = NewHTTPSMSSender(cfg.SMSEndpoint, secrets.SMSUsername, secrets.SMSAPIKey, cfg.SendTimeout)
	}

	var webpushOptions *webpush.Options
	if secrets.VAPIDPublic != "" && secrets.VAPIDPrivate != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  secrets.VAPIDPublic,
			VAPIDPrivateKey: secrets.VAPIDPrivate,
			Subscriber:      cfg.PushSubject,
			TTL:             cfg.PushTTL,
		}
	}

	return &Gateway{
		cfg:     cfg,
		pool:    NewWorkerPool(poolSize, st, secrets.SMSRecipients, sms, webpushOptions),
		probe:   &http.Client{Timeout: cfg.ProbeTimeout},
		mode:    ModeLocalOnly,
		enabled: enabled,
	}
}

// Start launches the delivery workers.
func (g *Gateway) Start(ctx context.Context) {
	g.pool.Start(ctx)
}

// Pool exposes the worker pool for testing.
func (g *Gateway) Pool() *WorkerPool {
	return g.pool
}

// Mode returns the current network mode.
func (g *Gateway) Mode() NetworkMode {
	return g.mode
}

// Refresh re-probes reachability and updates the mode. A failed or slow
// probe degrades to local-only; it never escalates to a fault.
func (g *Gateway) Refresh(ctx context.Context) NetworkMode {
	previous := g.mode
	if g.enabled && g.reachable(ctx) {
		g.mode = ModeOnline
	} else {
		g.mode = ModeLocalOnly
	}
	if g.mode != previous {
		log.Printf("network mode: %s -> %s", previous, g.mode)
	}
	return g.mode
}

// reachable probes the SMS gateway endpoint. Any HTTP response counts; only
// transport failure means unreachable.
func (g *Gateway) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.SMSEndpoint, nil)
	if err != nil {
		return false
	}
	resp, err := g.probe.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Dispatch queues the message for delivery when online. It reports whether
// delivery was attempted; in local-only mode the message is suppressed, not
// queued for later.
func (g *Gateway) Dispatch(kind Kind, body string) bool {
	if g.mode != ModeOnline {
		return false
	}
	g.pool.Dispatch(Message{Kind: kind, Body: body})
	return true
}
