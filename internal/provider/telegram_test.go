package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/provider"
)

// failingTransport fails every round trip with err, counting the attempts
// and recording when each one started.
type failingTransport struct {
	calls atomic.Int32
	err   error

	mu       sync.Mutex
	attempts []time.Time
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.attempts = append(f.attempts, time.Now())
	f.mu.Unlock()
	return nil, f.err
}

func (f *failingTransport) Attempts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.attempts...)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func newChannel(baseURL string, rt http.RoundTripper) *provider.TelegramChannel {
	return provider.NewTelegramChannel(provider.TelegramConfig{
		BaseURL:     baseURL,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Transport:   rt,
	}, zap.NewNop())
}

func TestTelegramChannel_Send_Success(t *testing.T) {
	var got struct {
		ChatID string `json:"chat_id"`
		Text   string `json:"text"`
	}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	err := newChannel(srv.URL, nil).Send(context.Background(), "123:abc", "-100", "stock low")
	require.NoError(t, err)
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "stock low", got.Text)
}

func TestTelegramChannel_Send_RemoteErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := newChannel(srv.URL, nil).Send(context.Background(), "tok", "-100", "hi")

	var remote *provider.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
	assert.Equal(t, "Bad Request: chat not found", remote.Description)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, provider.IsTransient(err))
}

func TestTelegramChannel_Send_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newChannel(srv.URL, nil).Send(context.Background(), "tok", "-100", "hi")

	var remote *provider.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusBadGateway, remote.StatusCode)
	assert.Equal(t, "upstream exploded", remote.Description)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTelegramChannel_Send_TransientErrorsAreRetried(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			check: func(t *testing.T, err error) {
				var netErr *provider.NetworkError
				assert.ErrorAs(t, err, &netErr)
			},
		},
		{
			name: "connection reset",
			err:  &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET},
			check: func(t *testing.T, err error) {
				var netErr *provider.NetworkError
				assert.ErrorAs(t, err, &netErr)
			},
		},
		{
			name: "dns failure",
			err:  &net.DNSError{Err: "no such host", Name: "api.example", IsNotFound: true},
			check: func(t *testing.T, err error) {
				var netErr *provider.NetworkError
				assert.ErrorAs(t, err, &netErr)
			},
		},
		{
			name: "timeout",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: timeoutErr{}},
			check: func(t *testing.T, err error) {
				var toErr *provider.TimeoutError
				assert.ErrorAs(t, err, &toErr)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rt := &failingTransport{err: tc.err}
			err := newChannel("http://telegram.invalid", rt).Send(context.Background(), "tok", "-100", "hi")

			require.Error(t, err)
			assert.Equal(t, int32(3), rt.calls.Load())
			assert.True(t, provider.IsTransient(err))
			tc.check(t, err)
		})
	}
}

func TestTelegramChannel_Send_RecoversAfterTransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rt := &flakyTransport{failures: 2, next: http.DefaultTransport}
	err := newChannel(srv.URL, rt).Send(context.Background(), "tok", "-100", "hi")
	require.NoError(t, err)
	assert.Equal(t, int32(3), rt.calls.Load())
}

func TestTelegramChannel_Send_UnclassifiedErrorIsNotRetried(t *testing.T) {
	rt := &failingTransport{err: errors.New("tls: handshake failure")}
	err := newChannel("http://telegram.invalid", rt).Send(context.Background(), "tok", "-100", "hi")

	require.Error(t, err)
	assert.Equal(t, int32(1), rt.calls.Load())
	assert.False(t, provider.IsTransient(err))
}

func TestTelegramChannel_Send_HidesToken(t *testing.T) {
	rt := &failingTransport{err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}}
	err := newChannel("http://telegram.invalid", rt).Send(context.Background(), "secret-token", "-100", "hi")

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestTelegramChannel_Send_BackoffGrows(t *testing.T) {
	rt := &failingTransport{err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}}
	ch := provider.NewTelegramChannel(provider.TelegramConfig{
		BaseURL:     "http://telegram.invalid",
		Timeout:     time.Second,
		MaxAttempts: 3,
		BaseDelay:   40 * time.Millisecond,
		Transport:   rt,
	}, zap.NewNop())

	err := ch.Send(context.Background(), "tok", "-100", "hi")
	returned := time.Now()
	require.Error(t, err)

	// 40ms before the second attempt, 80ms before the third, none after.
	at := rt.Attempts()
	require.Len(t, at, 3)
	first, second := at[1].Sub(at[0]), at[2].Sub(at[1])
	assert.GreaterOrEqual(t, first, 40*time.Millisecond)
	assert.Less(t, first, 80*time.Millisecond)
	assert.GreaterOrEqual(t, second, 80*time.Millisecond)
	assert.Less(t, second, 160*time.Millisecond)
	assert.Less(t, returned.Sub(at[2]), 40*time.Millisecond)
}

// flakyTransport fails the first n round trips with a refused connection.
type flakyTransport struct {
	calls    atomic.Int32
	failures int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	}
	return f.next.RoundTrip(r)
}
