package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"iv-monitor-backend/internal/store"
)

// mockPush is a scripted PushSender.
type mockPush struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockPush) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// recordingSMS captures every SMS send.
type recordingSMS struct {
	mu    sync.Mutex
	sends []string
}

func (r *recordingSMS) Send(recipient, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, recipient+": "+message)
	return nil
}

func newTestStore(t *testing.T) (store.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	return store.NewGormStore(gormDB), mock
}

func TestWorkerPoolDispatchQueues(t *testing.T) {
	st, _ := newTestStore(t)
	wp := NewWorkerPool(1, st, nil, nil, nil)

	wp.Dispatch(Message{Kind: KindBubble, Body: "BUBBLE DETECTED - CHECK IV LINE"})

	select {
	case msg := <-wp.Jobs():
		assert.Equal(t, KindBubble, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued message")
	}
}

func TestWorkerPoolDispatchDropsWhenFull(t *testing.T) {
	st, _ := newTestStore(t)
	wp := NewWorkerPool(1, st, nil, nil, nil)

	// Queue capacity equals the pool size; the second message must be
	// dropped without blocking.
	wp.Dispatch(Message{Kind: KindNoFlow, Body: "first"})
	done := make(chan struct{})
	go func() {
		wp.Dispatch(Message{Kind: KindNoFlow, Body: "second"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestWorkerDeliversSMSAndPush(t *testing.T) {
	st, mock := newTestStore(t)
	sms := &recordingSMS{}
	wp := NewWorkerPool(1, st, []string{"+254700000001", "+254700000002"}, sms, &webpush.Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	wp.push = &mockPush{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			assert.Equal(t, "https://example.com/push", sub.Endpoint)
			assert.Equal(t, "IV delivered 50%.", string(payload))
			wg.Done()
			return &http.Response{
				StatusCode: http.StatusCreated,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "push_subscriptions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
			AddRow("https://example.com/push", "p", "a", time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(Message{Kind: MilestoneKind(50), Body: "IV delivered 50%."})
	wg.Wait()

	sms.mu.Lock()
	defer sms.mu.Unlock()
	assert.Len(t, sms.sends, 2)
	assert.Contains(t, sms.sends[0], "+254700000001")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerDeletesExpiredSubscription(t *testing.T) {
	st, mock := newTestStore(t)
	wp := NewWorkerPool(1, st, nil, nil, &webpush.Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	wp.push = &mockPush{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			wg.Done()
			return &http.Response{
				StatusCode: http.StatusGone,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "push_subscriptions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
			AddRow("https://example.com/expired", "p", "a", time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "push_subscriptions"`)).
		WithArgs("https://example.com/expired").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch(Message{Kind: KindLowVolume, Body: "IV low volume (199 mL)."})
	wg.Wait()

	// Give the worker a beat to run the delete after the send returns.
	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)
}
