/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func remoteForServer(srv *httptest.Server) *RemoteProvider {
	return NewRemoteProvider(RemoteConfig{
		URL:           srv.URL,
		Token:         "test-token",
		RatePerMinute: 10000, // keep the limiter out of the way
	}, zerolog.Nop())
}

func TestRemoteProviderObtain(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req obtainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		items := make([]Item, req.ItemCount)
		for i := range items {
			items[i] = Item{Title: "Generated", DurationMinutes: 45}
		}
		json.NewEncoder(w).Encode(obtainResponse{Items: items})
	}))
	t.Cleanup(srv.Close)

	items, err := remoteForServer(srv).Obtain(context.Background(), "plan things", 3)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("got %d items, want 3", len(items))
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("authorization header = %q, want bearer token", gotAuth)
	}
}

func TestRemoteProviderRepairsWeakItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(obtainResponse{Items: []Item{
			{Title: "  Good  ", DurationMinutes: 30},
			{Title: "", DurationMinutes: 60},           // dropped
			{Title: "No Duration", DurationMinutes: 0}, // repaired to 60
		}})
	}))
	t.Cleanup(srv.Close)

	items, err := remoteForServer(srv).Obtain(context.Background(), "x", 3)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 after dropping the titleless one", len(items))
	}
	if items[0].Title != "Good" {
		t.Errorf("title not trimmed: %q", items[0].Title)
	}
	if items[1].DurationMinutes != 60 {
		t.Errorf("zero duration not repaired: %d", items[1].DurationMinutes)
	}
}

func TestRemoteProviderErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    ErrorKind
	}{
		{
			name:    "429 is rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    KindRateLimited,
		},
		{
			name:    "500 is transient",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			want:    KindTransient,
		},
		{
			name:    "400 is not retryable",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			want:    KindOther,
		},
		{
			name:    "unparseable body is malformed",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>nope</html>")) },
			want:    KindMalformed,
		},
		{
			name:    "zero items is malformed",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"items":[]}`)) },
			want:    KindMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			_, err := remoteForServer(srv).Obtain(context.Background(), "x", 2)
			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if perr.Kind != tt.want {
				t.Errorf("kind = %v, want %v", perr.Kind, tt.want)
			}
		})
	}
}

func TestRemoteProviderCarriesRetryAfterHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, err := remoteForServer(srv).Obtain(context.Background(), "x", 2)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if perr.Kind != KindRateLimited {
		t.Fatalf("kind = %v, want %v", perr.Kind, KindRateLimited)
	}
	if perr.RetryAfter != 7*time.Second {
		t.Errorf("retry-after = %v, want 7s", perr.RetryAfter)
	}
}

func TestRetryAfterHintParsing(t *testing.T) {
	mk := func(v string) http.Header {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return h
	}

	if got := retryAfterHint(mk("")); got != 0 {
		t.Errorf("absent header = %v, want 0", got)
	}
	if got := retryAfterHint(mk("12")); got != 12*time.Second {
		t.Errorf("seconds form = %v, want 12s", got)
	}
	if got := retryAfterHint(mk("-3")); got != 0 {
		t.Errorf("negative seconds = %v, want 0", got)
	}
	if got := retryAfterHint(mk("soon")); got != 0 {
		t.Errorf("garbage = %v, want 0", got)
	}

	at := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := retryAfterHint(mk(at)); got <= 80*time.Second || got > 90*time.Second {
		t.Errorf("http-date form = %v, want about 90s", got)
	}
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if got := retryAfterHint(mk(past)); got != 0 {
		t.Errorf("past date = %v, want 0", got)
	}
}

func TestRemoteProviderPostsToGenerateEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(obtainResponse{Items: []Item{{Title: "One", DurationMinutes: 30}}})
	}))
	t.Cleanup(srv.Close)

	if _, err := remoteForServer(srv).Obtain(context.Background(), "x", 1); err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if gotPath != "/v1/generate" {
		t.Errorf("request path = %q, want /v1/generate", gotPath)
	}
}

func TestRemoteProviderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() { close(release); srv.Close() })

	p := NewRemoteProvider(RemoteConfig{
		URL:            srv.URL,
		RatePerMinute:  10000,
		TimeoutBase:    30 * time.Millisecond,
		TimeoutPerItem: time.Millisecond,
		TimeoutCap:     60 * time.Millisecond,
	}, zerolog.Nop())

	_, err := p.Obtain(context.Background(), "x", 2)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if perr.Kind != KindTimeout {
		t.Errorf("kind = %v, want %v", perr.Kind, KindTimeout)
	}
	if !perr.Retryable() {
		t.Error("timeouts must be retryable")
	}
}

func TestTimeoutScalesWithCount(t *testing.T) {
	p := NewRemoteProvider(RemoteConfig{URL: "http://unused"}, zerolog.Nop())

	small := p.timeoutFor(1)
	large := p.timeoutFor(20)
	if large <= small {
		t.Errorf("timeout should grow with count: %v vs %v", small, large)
	}
	if got := p.timeoutFor(1000); got != defaultTimeoutCap {
		t.Errorf("timeout for a huge count = %v, want the %v cap", got, defaultTimeoutCap)
	}
}
