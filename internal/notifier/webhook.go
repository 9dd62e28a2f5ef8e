// Package notifier delivers address change notifications to an HTTP webhook.
package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cl3t4p/ip-notifier/internal/metrics"
	"github.com/cl3t4p/ip-notifier/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 10 * time.Second

// WebhookNotifier posts the rendered template to a single callback URL.
type WebhookNotifier struct {
	url      string
	template *TemplateFile
	client   *http.Client
}

func NewWebhookNotifier(url string, template *TemplateFile, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookNotifier{
		url:      url,
		template: template,
		client:   &http.Client{Timeout: timeout},
	}
}

// Notify performs one POST. Any completed exchange returns its status code
// with a nil error, including non-2xx answers; the caller decides how to
// report those. Errors mean the template could not be loaded or the request
// never completed.
func (w *WebhookNotifier) Notify(ctx context.Context, addr string) (status int, err error) {
	ctx, span := tracing.Tracer("notifier").Start(ctx, "notifier.notify",
		trace.WithAttributes(attribute.String("address", addr)),
	)
	start := time.Now()
	defer func() {
		metrics.NotificationLatency.Observe(time.Since(start).Seconds())
		switch {
		case err != nil:
			metrics.NotificationsTotal.WithLabelValues("error").Inc()
		case IsSuccess(status):
			metrics.NotificationsTotal.WithLabelValues("success").Inc()
		default:
			metrics.NotificationsTotal.WithLabelValues("rejected").Inc()
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		tracing.Finish(span, err)
	}()

	tmpl, err := w.template.Load()
	if err != nil {
		return 0, fmt.Errorf("load notification template: %w", err)
	}
	body := Render(tmpl, addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, strings.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}

// IsSuccess reports whether status is a 2xx code.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
