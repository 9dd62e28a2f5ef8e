package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method      string
	contentType string
	body        string
}

// newCaptureServer records every request it receives and answers with status.
func newCaptureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			body:        string(b),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestNotify_CreatesDefaultTemplateAndPostsJSON(t *testing.T) {
	srv, captured := newCaptureServer(t, http.StatusNoContent)
	path := filepath.Join(t.TempDir(), "config", "webhook.json")

	n := NewWebhookNotifier(srv.URL, NewTemplateFile(path), time.Second)
	status, err := n.Notify(context.Background(), "5.6.7.8")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplate, string(onDisk))

	reqs := captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "application/json", reqs[0].contentType)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(reqs[0].body), &payload))
	assert.Equal(t, "IP has changed to 5.6.7.8", payload["content"])
	assert.Equal(t, "IP Notifier", payload["username"])
}

func TestNotify_TwoCallsProduceIdenticalBodies(t *testing.T) {
	srv, captured := newCaptureServer(t, http.StatusOK)
	path := filepath.Join(t.TempDir(), "webhook.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"text":"#ip#"}`), 0o644))

	n := NewWebhookNotifier(srv.URL, NewTemplateFile(path), time.Second)
	_, err := n.Notify(context.Background(), "9.9.9.9")
	require.NoError(t, err)
	_, err = n.Notify(context.Background(), "9.9.9.9")
	require.NoError(t, err)

	reqs := captured()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].body, reqs[1].body)
	assert.Equal(t, `{"text":"9.9.9.9"}`, reqs[0].body)
}

func TestNotify_ExistingTemplateIsNotRewritten(t *testing.T) {
	srv, captured := newCaptureServer(t, http.StatusOK)
	path := filepath.Join(t.TempDir(), "webhook.json")
	custom := `{"ip":"#ip#","again":"#ip#"}`
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))

	n := NewWebhookNotifier(srv.URL, NewTemplateFile(path), time.Second)
	_, err := n.Notify(context.Background(), "1.1.1.1")
	require.NoError(t, err)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, custom, string(onDisk))

	reqs := captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, `{"ip":"1.1.1.1","again":"1.1.1.1"}`, reqs[0].body)
}

func TestNotify_NonSuccessStatusIsReturnedNotErrored(t *testing.T) {
	srv, captured := newCaptureServer(t, http.StatusBadRequest)

	n := NewWebhookNotifier(srv.URL, NewTemplateFile(filepath.Join(t.TempDir(), "w.json")), time.Second)
	status, err := n.Notify(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, IsSuccess(status))
	assert.Len(t, captured(), 1, "notifier must not retry")
}

func TestNotify_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	n := NewWebhookNotifier(url, NewTemplateFile(filepath.Join(t.TempDir(), "w.json")), time.Second)
	status, err := n.Notify(context.Background(), "1.2.3.4")
	require.Error(t, err)
	assert.Zero(t, status)
	assert.Contains(t, err.Error(), "send webhook notification")
}

func TestNotify_TemplateUnreadable(t *testing.T) {
	srv, captured := newCaptureServer(t, http.StatusOK)
	dir := t.TempDir()

	// A directory where the template file should be cannot be read as a file.
	path := filepath.Join(dir, "webhook.json")
	require.NoError(t, os.Mkdir(path, 0o755))

	n := NewWebhookNotifier(srv.URL, NewTemplateFile(path), time.Second)
	_, err := n.Notify(context.Background(), "1.2.3.4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load notification template")
	assert.Empty(t, captured())
}

func TestRender(t *testing.T) {
	assert.Equal(t, "a 1.2.3.4 b 1.2.3.4", Render("a #ip# b #ip#", "1.2.3.4"))
	assert.Equal(t, "no marker", Render("no marker", "1.2.3.4"))
	assert.Equal(t, "[]", Render("[#ip#]", ""))
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess(200))
	assert.True(t, IsSuccess(204))
	assert.False(t, IsSuccess(199))
	assert.False(t, IsSuccess(301))
	assert.False(t, IsSuccess(500))
}
