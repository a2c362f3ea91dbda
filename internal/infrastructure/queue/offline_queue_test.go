package queue

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/commerce"
	"github.com/vendorhub/storefront/internal/infrastructure/connectivity"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence"
)

// fakeReplayer fails requests to URLs listed in failing
type fakeReplayer struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   []string
}

func (r *fakeReplayer) Do(_ context.Context, method, url string, _ map[string]string, _ []byte) (*commerce.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, method+" "+url)
	if r.failing[url] {
		return nil, shared.ErrConnectivityLost
	}
	return &commerce.Response{StatusCode: http.StatusOK}, nil
}

func (r *fakeReplayer) setFailing(url string, failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[url] = failing
}

func (r *fakeReplayer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestOfflineQueue_AddAndManage(t *testing.T) {
	ctx := context.Background()
	q := NewOfflineQueue(persistence.NewGormMutationRepository(newTestDB(t)), &fakeReplayer{failing: map[string]bool{}})

	m1, err := q.Add(ctx, "https://shop.example.com/api/products/1", offline.RequestOptions{
		Method:  http.MethodPut,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"price":12}`),
	})
	require.NoError(t, err)
	_, err = q.Add(ctx, "https://shop.example.com/api/products/2", offline.RequestOptions{Method: http.MethodDelete})
	require.NoError(t, err)

	all, err := q.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, m1.ID, all[0].ID)
	assert.Equal(t, []byte(`{"price":12}`), all[0].Request.Body)
	assert.Equal(t, "application/json", all[0].Request.Headers["Content-Type"])

	require.NoError(t, q.Remove(ctx, m1.ID))
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, q.Clear(ctx))
	n, err = q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOfflineQueue_AddValidates(t *testing.T) {
	ctx := context.Background()
	q := NewOfflineQueue(persistence.NewGormMutationRepository(newTestDB(t)), &fakeReplayer{failing: map[string]bool{}})

	_, err := q.Add(ctx, "not a url", offline.RequestOptions{Method: http.MethodPost})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = q.Add(ctx, "https://shop.example.com/x", offline.RequestOptions{Method: "FETCH"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestOfflineQueue_ProcessAll(t *testing.T) {
	ctx := context.Background()
	replayer := &fakeReplayer{failing: map[string]bool{"https://shop.example.com/b": true}}
	q := NewOfflineQueue(persistence.NewGormMutationRepository(newTestDB(t)), replayer)

	for _, u := range []string{"https://shop.example.com/a", "https://shop.example.com/b", "https://shop.example.com/c"} {
		_, err := q.Add(ctx, u, offline.RequestOptions{Method: http.MethodPost})
		require.NoError(t, err)
	}

	res, err := q.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, offline.ProcessResult{Attempted: 3, Succeeded: 2, Failed: 1, Remaining: 1}, res)

	left, err := q.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "https://shop.example.com/b", left[0].URL)

	replayer.setFailing("https://shop.example.com/b", false)
	res, err = q.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, offline.ProcessResult{Attempted: 1, Succeeded: 1, Remaining: 0}, res)
}

func TestOfflineQueue_RegisterFlushesOnReconnect(t *testing.T) {
	ctx := context.Background()
	replayer := &fakeReplayer{failing: map[string]bool{"https://shop.example.com/flaky": true}}
	q := NewOfflineQueue(persistence.NewGormMutationRepository(newTestDB(t)), replayer,
		WithReflushBackoff(10*time.Millisecond, 40*time.Millisecond))
	t.Cleanup(func() { _ = q.Close() })

	monitor := connectivity.NewMonitor(connectivity.StartOffline())
	q.Register(monitor)
	q.Register(monitor) // second registration is ignored

	_, err := q.Add(ctx, "https://shop.example.com/ok", offline.RequestOptions{Method: http.MethodPost})
	require.NoError(t, err)
	_, err = q.Add(ctx, "https://shop.example.com/flaky", offline.RequestOptions{Method: http.MethodPatch})
	require.NoError(t, err)

	monitor.SetOnline()

	require.Eventually(t, func() bool {
		n, err := q.Count(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	// leftovers are retried with backoff while online
	require.Eventually(t, func() bool { return replayer.callCount() >= 4 }, 2*time.Second, 10*time.Millisecond)

	replayer.setFailing("https://shop.example.com/flaky", false)
	require.Eventually(t, func() bool {
		n, err := q.Count(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOfflineQueue_NoReflushWhileOffline(t *testing.T) {
	ctx := context.Background()
	replayer := &fakeReplayer{failing: map[string]bool{"https://shop.example.com/down": true}}
	q := NewOfflineQueue(persistence.NewGormMutationRepository(newTestDB(t)), replayer,
		WithReflushBackoff(5*time.Millisecond, 5*time.Millisecond))
	t.Cleanup(func() { _ = q.Close() })

	monitor := connectivity.NewMonitor(connectivity.StartOffline())
	q.Register(monitor)

	_, err := q.Add(ctx, "https://shop.example.com/down", offline.RequestOptions{Method: http.MethodPost})
	require.NoError(t, err)

	monitor.SetOnline()
	require.Eventually(t, func() bool { return replayer.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	monitor.SetOffline()

	time.Sleep(50 * time.Millisecond)
	settled := replayer.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, replayer.callCount())
}
