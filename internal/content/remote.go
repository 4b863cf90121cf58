/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/skuld_calendar/internal/telemetry"
)

const (
	defaultTimeoutBase    = 8 * time.Second
	defaultTimeoutPerItem = 1500 * time.Millisecond
	defaultTimeoutCap     = 45 * time.Second
	maxResponseBytes      = 1 << 20
)

// RemoteConfig configures the HTTP content provider. Zero timeout fields
// fall back to the package defaults.
type RemoteConfig struct {
	URL            string
	Token          string
	RatePerMinute  int
	TimeoutBase    time.Duration
	TimeoutPerItem time.Duration
	TimeoutCap     time.Duration
}

// RemoteProvider obtains items from an HTTP generation service. Requests are
// rate limited client-side and carry a deadline that grows with the item
// count, since large batches legitimately take longer to produce.
type RemoteProvider struct {
	cfg      RemoteConfig
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

type obtainRequest struct {
	Description string `json:"description"`
	ItemCount   int    `json:"item_count"`
}

type obtainResponse struct {
	Items []Item `json:"items"`
}

// NewRemoteProvider builds a provider for the given endpoint.
func NewRemoteProvider(cfg RemoteConfig, logger zerolog.Logger) *RemoteProvider {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	if cfg.TimeoutBase <= 0 {
		cfg.TimeoutBase = defaultTimeoutBase
	}
	if cfg.TimeoutPerItem <= 0 {
		cfg.TimeoutPerItem = defaultTimeoutPerItem
	}
	if cfg.TimeoutCap <= 0 {
		cfg.TimeoutCap = defaultTimeoutCap
	}
	return &RemoteProvider{
		cfg:      cfg,
		endpoint: strings.TrimSuffix(cfg.URL, "/") + "/v1/generate",
		// Per-request deadlines come from the context, not the client.
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 2),
		logger:  logger.With().Str("component", "content_provider").Logger(),
	}
}

// timeoutFor scales the request deadline with the batch size.
func (p *RemoteProvider) timeoutFor(count int) time.Duration {
	t := p.cfg.TimeoutBase + time.Duration(count)*p.cfg.TimeoutPerItem
	if t > p.cfg.TimeoutCap {
		t = p.cfg.TimeoutCap
	}
	return t
}

// Obtain requests count items for description. Failures come back as *Error
// with a kind the retry layer can act on.
func (p *RemoteProvider) Obtain(ctx context.Context, description string, count int) ([]Item, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindTimeout, err)
		}
		return nil, newError(KindOther, err)
	}

	body, err := json.Marshal(obtainRequest{Description: description, ItemCount: count})
	if err != nil {
		return nil, newError(KindOther, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeoutFor(count))
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindOther, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	telemetry.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			p.countCall(KindTimeout)
			return nil, newError(KindTimeout, err)
		}
		// Connection resets, DNS trouble and friends are worth a retry.
		p.countCall(KindTransient)
		return nil, newError(KindTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		p.countCall(KindRateLimited)
		perr := newError(KindRateLimited, fmt.Errorf("provider returned %d", resp.StatusCode))
		perr.RetryAfter = retryAfterHint(resp.Header)
		return nil, perr
	case resp.StatusCode >= 500:
		p.countCall(KindTransient)
		return nil, newError(KindTransient, fmt.Errorf("provider returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		p.countCall(KindOther)
		return nil, newError(KindOther, fmt.Errorf("provider returned %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		p.countCall(KindTransient)
		return nil, newError(KindTransient, err)
	}

	var parsed obtainResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		p.countCall(KindMalformed)
		return nil, newError(KindMalformed, err)
	}

	items := normalizeItems(parsed.Items)
	if len(items) == 0 {
		p.countCall(KindMalformed)
		return nil, newError(KindMalformed, errors.New("provider returned no usable items"))
	}

	p.countCall("")
	p.logger.Debug().
		Int("requested", count).
		Int("received", len(items)).
		Msg("provider call succeeded")
	return items, nil
}

// retryAfterHint parses a Retry-After header, delta seconds or HTTP date.
// Zero means absent or unusable.
func retryAfterHint(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func (p *RemoteProvider) countCall(kind ErrorKind) {
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	telemetry.ProviderCallsTotal.WithLabelValues(result).Inc()
}

// normalizeItems drops entries without a title and repairs missing durations.
// A reply where nothing survives counts as malformed.
func normalizeItems(in []Item) []Item {
	out := make([]Item, 0, len(in))
	for _, it := range in {
		it.Title = strings.TrimSpace(it.Title)
		if it.Title == "" {
			continue
		}
		if it.DurationMinutes <= 0 {
			it.DurationMinutes = 60
		}
		out = append(out, it)
	}
	return out
}
