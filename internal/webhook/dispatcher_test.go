package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/config"
	"github.com/nikhilbhutani/promptops/internal/models"
)

func TestDispatcherDeliversSignedEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, Sign(body, "s3cret"), r.Header.Get("X-Webhook-Signature"))
		assert.Equal(t, "deployment.activated", r.Header.Get("X-Webhook-Event"))

		var evt Event
		require.NoError(t, json.Unmarshal(body, &evt))
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(config.WebhookConfig{URLs: []string{srv.URL, srv.URL}, Secret: "s3cret"})
	dep := &models.Deployment{ID: uuid.New(), Status: models.DeploymentActive}
	d.Notify(context.Background(), "deployment.activated", dep)
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, dep.ID, received[0].Deployment.ID)
	assert.Equal(t, received[0].ID, received[1].ID)
}

func TestDispatcherWithoutEndpointsIsNoop(t *testing.T) {
	d := NewDispatcher(config.WebhookConfig{})
	d.Notify(context.Background(), "deployment.failed", &models.Deployment{})
	d.Close()
	d.Close()
}

func TestSign(t *testing.T) {
	assert.Equal(t,
		"sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		Sign([]byte("The quick brown fox jumps over the lazy dog"), "key"))
}

func TestNotifyAfterCloseIsDropped(t *testing.T) {
	d := NewDispatcher(config.WebhookConfig{URLs: []string{"http://127.0.0.1:1"}})
	d.Close()

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), "deployment.activated", &models.Deployment{ID: uuid.New()})
	})
	assert.Empty(t, d.deliveries)
}

func TestConcurrentNotifyAndClose(t *testing.T) {
	d := NewDispatcher(config.WebhookConfig{URLs: []string{"http://127.0.0.1:1"}})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				d.Notify(context.Background(), "deployment.activated", &models.Deployment{})
			}
		}()
	}
	d.Close()
	wg.Wait()
}
