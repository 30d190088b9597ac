package paypal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestVerifyAcceptsLiteralVerified(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type: %s", ct)
		}
		_, _ = w.Write([]byte("VERIFIED"))
	}))
	defer srv.Close()

	v, err := NewVerifier(Config{Endpoint: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	raw := "txn_id=abc&invoice=12&payment_status=Completed"
	ok, err := v.Verify(context.Background(), url.Values{"txn_id": {"abc"}}, raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected verified result")
	}
	if gotBody != "cmd=_notify-validate&"+raw {
		t.Fatalf("unexpected postback body: %s", gotBody)
	}
}

func TestVerifyEncodesParamsWithoutRawBody(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		_, _ = w.Write([]byte("VERIFIED\n"))
	}))
	defer srv.Close()

	v, _ := NewVerifier(Config{Endpoint: srv.URL, Timeout: time.Second})
	ok, err := v.Verify(context.Background(), url.Values{"invoice": {"7"}, "mc_gross": {"4.99"}}, "")
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if form.Get("cmd") != "_notify-validate" || form.Get("invoice") != "7" || form.Get("mc_gross") != "4.99" {
		t.Fatalf("unexpected postback form: %v", form)
	}
}

func TestVerifyRejectsInvalidBody(t *testing.T) {
	for _, body := range []string{"INVALID", "verified", "VERIFIED but not really", ""} {
		t.Run(body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			v, _ := NewVerifier(Config{Endpoint: srv.URL, Timeout: time.Second})
			ok, err := v.Verify(context.Background(), url.Values{}, "a=b")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Fatalf("expected unverified result for body %q", body)
			}
		})
	}
}

func TestVerifyReportsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("VERIFIED"))
	}))
	defer srv.Close()
	defer close(release)

	v, _ := NewVerifier(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	ok, err := v.Verify(context.Background(), url.Values{}, "a=b")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if ok {
		t.Fatalf("timeout must not verify")
	}
}

func TestVerifyReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v, _ := NewVerifier(Config{Endpoint: srv.URL, Timeout: time.Second})
	_, err := v.Verify(context.Background(), url.Values{}, "")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNewVerifierRequiresEndpoint(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
