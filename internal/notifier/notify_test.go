package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyRefreshReuse_PostsPayload(t *testing.T) {
	received := make(chan WebhookNotify, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload WebhookNotify
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received <- payload
	}))
	defer server.Close()

	NewWebhookNotifier(server.URL, time.Second).NotifyRefreshReuse(context.Background(), "u-1", "10.0.0.1", "curl")

	select {
	case payload := <-received:
		assert.Equal(t, "u-1", payload.UserID)
		assert.Equal(t, "10.0.0.1", payload.IPAddress)
		assert.Equal(t, EventRefreshTokenReuse, payload.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL, time.Second).Send(context.Background(), &WebhookNotify{Event: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNotifyRefreshReuse_DisabledWithoutURL(t *testing.T) {
	var notifier *WebhookNotifier
	notifier.NotifyRefreshReuse(context.Background(), "u-1", "", "")
	NewWebhookNotifier("", 0).NotifyRefreshReuse(context.Background(), "u-1", "", "")
}
