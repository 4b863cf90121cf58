/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const remoteTimeout = 10 * time.Second

// RemoteStore talks to an external calendar service over HTTP. The wire
// contract mirrors the Store interface: POST /events, GET /events, DELETE
// /events/{id}.
type RemoteStore struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger
}

type remoteEvent struct {
	ExternalID  string    `json:"externalId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Timezone    string    `json:"timezone"`
	Tag         string    `json:"tag"`
}

type createEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Timezone    string    `json:"timezone"`
	Tag         string    `json:"tag"`
}

type createEventResponse struct {
	ExternalID string `json:"externalId"`
}

type listEventsResponse struct {
	Events []remoteEvent `json:"events"`
}

// NewRemoteStore builds a client for the calendar service at baseURL.
func NewRemoteStore(baseURL, token string, logger zerolog.Logger) *RemoteStore {
	return &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: remoteTimeout},
		logger:  logger.With().Str("component", "calstore_remote").Logger(),
	}
}

// Create posts one event and returns the service's external id.
func (s *RemoteStore) Create(ctx context.Context, spec EventSpec) (string, error) {
	if err := validateSpec(spec); err != nil {
		countOp("create", "invalid")
		return "", err
	}

	body, err := json.Marshal(createEventRequest{
		Title:       spec.Title,
		Description: spec.Description,
		StartsAt:    spec.StartsAt.UTC(),
		EndsAt:      spec.EndsAt.UTC(),
		Timezone:    spec.Timezone,
		Tag:         spec.Tag,
	})
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPost, s.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		countOp("create", "error")
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		countOp("create", "error")
		return "", fmt.Errorf("calendar service returned %d on create", resp.StatusCode)
	}

	var created createEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		countOp("create", "error")
		return "", fmt.Errorf("decode create reply: %w", err)
	}
	if created.ExternalID == "" {
		countOp("create", "error")
		return "", fmt.Errorf("calendar service returned no external id")
	}
	countOp("create", "ok")
	return created.ExternalID, nil
}

// List fetches events, optionally filtered by tag.
func (s *RemoteStore) List(ctx context.Context, tag string) ([]StoredEvent, error) {
	endpoint := s.baseURL + "/events"
	if tag != "" {
		endpoint += "?tag=" + url.QueryEscape(tag)
	}

	resp, err := s.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		countOp("list", "error")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		countOp("list", "error")
		return nil, fmt.Errorf("calendar service returned %d on list", resp.StatusCode)
	}

	var listed listEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		countOp("list", "error")
		return nil, fmt.Errorf("decode list reply: %w", err)
	}
	countOp("list", "ok")

	events := make([]StoredEvent, 0, len(listed.Events))
	for _, ev := range listed.Events {
		events = append(events, StoredEvent(ev))
	}
	return events, nil
}

// Delete removes an event by external id.
func (s *RemoteStore) Delete(ctx context.Context, externalID string) error {
	resp, err := s.do(ctx, http.MethodDelete, s.baseURL+"/events/"+url.PathEscape(externalID), nil)
	if err != nil {
		countOp("delete", "error")
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		countOp("delete", "ok")
		return nil
	case http.StatusNotFound:
		countOp("delete", "not_found")
		return ErrNotFound
	default:
		countOp("delete", "error")
		return fmt.Errorf("calendar service returned %d on delete", resp.StatusCode)
	}
}

func (s *RemoteStore) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar service request: %w", err)
	}
	return resp, nil
}
