package paypal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MichaelUrman/bookstore/internal/infra/httpclient"
)

const (
	validateCommand = "_notify-validate"
	verifiedBody    = "VERIFIED"
	maxResponseBody = 1 << 10
)

type durationObserver interface {
	VerifyDuration(result string, d time.Duration)
}

type Verifier struct {
	client   *http.Client
	endpoint string
	tracer   trace.Tracer
	observer durationObserver
	now      func() time.Time
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

func NewVerifier(cfg Config) (*Verifier, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("paypal verify endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("parse paypal verify endpoint: %w", err)
	}

	return &Verifier{
		client:   httpclient.New(cfg.Timeout),
		endpoint: endpoint,
		tracer:   trace.NewNoopTracerProvider().Tracer("paypal"),
		now:      time.Now,
	}, nil
}

func (v *Verifier) AttachTracer(tracer trace.Tracer) {
	if tracer != nil {
		v.tracer = tracer
	}
}

func (v *Verifier) AttachObserver(observer durationObserver) {
	v.observer = observer
}

// Verify posts cmd=_notify-validate followed by the original payload. When raw
// is non-empty it is sent verbatim so the processor sees the parameters in the
// order it produced them; otherwise params are re-encoded.
// A false result with a nil error means the processor did not confirm.
func (v *Verifier) Verify(ctx context.Context, params url.Values, raw string) (bool, error) {
	ctx, span := v.tracer.Start(ctx, "paypal.verify",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("paypal.txn_id", params.Get("txn_id"))),
	)
	defer span.End()

	started := v.now()
	verified, err := v.postback(ctx, params, raw)

	result := "invalid"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification call failed")
	case verified:
		result = "verified"
	}
	span.SetAttributes(attribute.String("paypal.verify_result", result))
	if v.observer != nil {
		v.observer.VerifyDuration(result, v.now().Sub(started))
	}

	return verified, err
}

func (v *Verifier) postback(ctx context.Context, params url.Values, raw string) (bool, error) {
	body := "cmd=" + validateCommand
	if raw = strings.TrimSpace(raw); raw != "" {
		body += "&" + raw
	} else if encoded := params.Encode(); encoded != "" {
		body += "&" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewBufferString(body))
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "bookstore-ipn/1.0")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("post verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return false, fmt.Errorf("verify endpoint returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return false, fmt.Errorf("read verify response: %w", err)
	}

	return strings.TrimSpace(string(payload)) == verifiedBody, nil
}
