package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSenderPostsHTML(t *testing.T) {
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "T0KEN", "-100", time.Second)
	require.NoError(t, s.Send(context.Background(), "<b>hi</b>"))
	assert.Equal(t, "/botT0KEN/sendMessage", path)
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Equal(t, "<b>hi</b>", got.Text)
}

func TestTelegramSenderRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`))
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "t", "c", time.Second).Send(context.Background(), "x")
	var ra *RetryAfterError
	require.True(t, errors.As(err, &ra))
	assert.Equal(t, 7*time.Second, ra.After)
}

func TestTelegramSenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "t", "c", time.Second).Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	var ra *RetryAfterError
	assert.False(t, errors.As(err, &ra))
}

func TestTelegramSenderKeepsTokenOutOfErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	const token = "123456:SECRET-bot-token"
	err = NewTelegramSender("http://"+addr, token, "c", time.Second).Send(context.Background(), "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
	assert.Contains(t, err.Error(), "/bot<redacted>/sendMessage")
}

func TestTelegramSenderTimeoutIsRedacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	const token = "987:ANOTHER-token"
	err := NewTelegramSender(srv.URL, token, "c", 50*time.Millisecond).Send(context.Background(), "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
}
