package api

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/petsync/pkg/model"
)

// HTTPClient is the REST implementation of Client.
type HTTPClient struct {
	baseURL string
	tokens  TokenStore
	http    *http.Client
}

func NewHTTPClient(baseURL string, tokens TokenStore) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do executes one request and decodes the response into out (when non-nil),
// mapping every failure onto the typed error taxonomy.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "RemoteCall", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	))
	defer span.End()

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return &Error{Kind: KindInvalidURL, Message: err.Error()}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindDecodingError, Message: fmt.Sprintf("failed to encode request: %v", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return &Error{Kind: KindInvalidURL, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, err := c.tokens.Token(); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return &Error{Kind: KindNetworkError, Message: err.Error()}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// The stored credential is no longer valid; drop it so the UI can
		// prompt for re-authentication.
		c.tokens.Invalidate()
		return &Error{Kind: KindUnauthorized, Message: "credential rejected"}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindServerError, Message: readErrorMessage(resp.Body)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &Error{Kind: KindInvalidResponse, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return &Error{Kind: KindDecodingError, Message: err.Error()}
	}
	return nil
}

func readErrorMessage(body io.Reader) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "server error"
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	return "server error"
}

func (c *HTTPClient) GetPets(ctx context.Context) ([]model.Pet, error) {
	var pets []model.Pet
	if err := c.do(ctx, http.MethodGet, "/pets", nil, &pets); err != nil {
		return nil, err
	}
	return pets, nil
}

func (c *HTTPClient) GetAlerts(ctx context.Context) ([]model.Alert, error) {
	var alerts []model.Alert
	if err := c.do(ctx, http.MethodGet, "/alerts", nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *HTTPClient) GetSuccessStories(ctx context.Context) ([]model.SuccessStory, error) {
	var stories []model.SuccessStory
	if err := c.do(ctx, http.MethodGet, "/success-stories", nil, &stories); err != nil {
		return nil, err
	}
	return stories, nil
}

func (c *HTTPClient) CreateAlert(ctx context.Context, req AlertRequest) (*model.Alert, error) {
	var alert model.Alert
	if err := c.do(ctx, http.MethodPost, "/alerts", req, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (c *HTTPClient) MarkPetFound(ctx context.Context, petID string) (*model.Pet, error) {
	var pet model.Pet
	if err := c.do(ctx, http.MethodPost, "/pets/"+url.PathEscape(petID)+"/found", nil, &pet); err != nil {
		return nil, err
	}
	return &pet, nil
}

func (c *HTTPClient) UpdatePet(ctx context.Context, petID string, update PetUpdate) (*model.Pet, error) {
	var pet model.Pet
	if err := c.do(ctx, http.MethodPatch, "/pets/"+url.PathEscape(petID), update, &pet); err != nil {
		return nil, err
	}
	return &pet, nil
}

func (c *HTTPClient) ReportSighting(ctx context.Context, alertID string, req SightingRequest) (*model.Sighting, error) {
	var sighting model.Sighting
	if err := c.do(ctx, http.MethodPost, "/alerts/"+url.PathEscape(alertID)+"/sightings", req, &sighting); err != nil {
		return nil, err
	}
	return &sighting, nil
}
