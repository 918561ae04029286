package notify

import (
	"context"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"iv-monitor-backend/internal/model"
	"iv-monitor-backend/internal/store"
)

// PushSender defines the interface for sending a web push notification.
type PushSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation of PushSender using the webpush
// library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Message is one alert to fan out to every SMS recipient and every push
// subscription.
type Message struct {
	Kind Kind
	Body string
}

// WorkerPool manages a pool of workers for delivering notifications off the
// monitoring loop's thread.
type WorkerPool struct {
	size       int
	jobs       chan Message
	store      store.Store
	recipients []string
	sms        SMSSender
	push       PushSender
	webpush    *webpush.Options
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st store.Store, recipients []string, sms SMSSender, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:       size,
		jobs:       make(chan Message, size),
		store:      st,
		recipients: recipients,
		sms:        sms,
		push:       &WebPushSender{},
		webpush:    webpushOptions,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("notification worker %d started", id)
	for {
		select {
		case msg := <-wp.jobs:
			wp.deliver(ctx, msg)
		case <-ctx.Done():
			log.Printf("notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a message for delivery. It never blocks the caller: when
// the queue is full the message is dropped and logged, which is preferable
// to stalling the alarm loop.
func (wp *WorkerPool) Dispatch(msg Message) {
	select {
	case wp.jobs <- msg:
	default:
		log.Printf("notification queue full, dropping %q", msg.Kind)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Message {
	return wp.jobs
}

// deliver fans one message out to all SMS recipients and push subscriptions.
func (wp *WorkerPool) deliver(ctx context.Context, msg Message) {
	if wp.sms != nil {
		for _, recipient := range wp.recipients {
			if err := wp.sms.Send(recipient, msg.Body); err != nil {
				log.Printf("SMS to %s failed: %v", recipient, err)
			}
		}
	}

	if wp.store == nil || wp.webpush == nil {
		return
	}
	subs, err := wp.store.Subscriptions(ctx)
	if err != nil {
		log.Printf("failed to fetch push subscriptions: %v", err)
		return
	}
	for _, sub := range subs {
		wp.sendPush(ctx, sub, []byte(msg.Body))
	}
}

// sendPush sends a single web push notification and prunes expired
// subscriptions.
func (wp *WorkerPool) sendPush(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.push.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("push to %s failed: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("push subscription %s expired, deleting", sub.Endpoint)
		if err := wp.store.DB().WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
