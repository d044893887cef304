package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/cascadia-health/study-export/internal/resilience"
)

// Lookup is one address submitted to the external geocoder. InputID is the
// composite correlation key echoed back in the provider response.
type Lookup struct {
	InputID string
	Address AddressInfo
}

// Result is the provider outcome for one lookup. A nil Address means the
// provider found no match.
type Result struct {
	InputID string
	Address *GeocodedAddress
}

// Geocoder performs batched lookups against an external provider.
type Geocoder interface {
	Geocode(ctx context.Context, lookups []Lookup) ([]Result, error)
}

// Option configures the HTTP geocoder client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit for provider calls.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithRetry overrides the retry policy for transient provider failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) {
		c.retry = cfg
	}
}

type client struct {
	baseURL    string
	authID     string
	authToken  string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates an HTTP Geocoder for the street-address batch endpoint.
func NewClient(baseURL, authID, authToken string, opts ...Option) Geocoder {
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authID:     authID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(50, 50),
		retry:      resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("geocode", "street-address")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lookupRequest is one entry in the provider batch request body.
type lookupRequest struct {
	InputID       string `json:"input_id"`
	Street        string `json:"street"`
	Street2       string `json:"street2,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	ZipCode       string `json:"zipcode,omitempty"`
	MaxCandidates int    `json:"candidates"`
}

// candidateResponse is one match in the provider batch response.
type candidateResponse struct {
	InputID       string `json:"input_id"`
	DeliveryLine1 string `json:"delivery_line_1"`
	DeliveryLine2 string `json:"delivery_line_2,omitempty"`
	LastLine      string `json:"last_line"`
	Components    struct {
		CityName          string `json:"city_name"`
		StateAbbreviation string `json:"state_abbreviation"`
		ZipCode           string `json:"zipcode"`
		Plus4Code         string `json:"plus4_code,omitempty"`
	} `json:"components"`
	Metadata struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"metadata"`
}

// Geocode implements Geocoder. The provider echoes one candidate per matched
// lookup; lookups absent from the response are unmatched and produce a
// Result with a nil Address.
func (c *client) Geocode(ctx context.Context, lookups []Lookup) ([]Result, error) {
	if len(lookups) == 0 {
		return nil, nil
	}

	body := make([]lookupRequest, 0, len(lookups))
	for _, l := range lookups {
		req := lookupRequest{
			InputID:       l.InputID,
			City:          l.Address.City,
			State:         l.Address.State,
			ZipCode:       l.Address.PostalCode,
			MaxCandidates: 1,
		}
		if len(l.Address.Lines) > 0 {
			req.Street = l.Address.Lines[0]
		}
		if len(l.Address.Lines) > 1 {
			req.Street2 = l.Address.Lines[1]
		}
		body = append(body, req)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: marshal batch request")
	}

	candidates, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]candidateResponse, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		return nil, err
	}

	matched := make(map[string]*GeocodedAddress, len(candidates))
	for _, cand := range candidates {
		matched[cand.InputID] = toGeocodedAddress(cand)
	}

	results := make([]Result, 0, len(lookups))
	for _, l := range lookups {
		results = append(results, Result{InputID: l.InputID, Address: matched[l.InputID]})
	}
	return results, nil
}

func (c *client) post(ctx context.Context, payload []byte) ([]candidateResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{
		"auth-id":    {c.authID},
		"auth-token": {c.authToken},
	}
	reqURL := c.baseURL + "/street-address?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: provider request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: provider returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read response body")
	}

	var candidates []candidateResponse
	if err := json.Unmarshal(body, &candidates); err != nil {
		return nil, eris.Wrap(err, "geocode: parse provider response")
	}
	return candidates, nil
}

// toGeocodedAddress converts a provider candidate into the standardized form.
func toGeocodedAddress(cand candidateResponse) *GeocodedAddress {
	postal := cand.Components.ZipCode
	if cand.Components.Plus4Code != "" {
		postal = postal + "-" + cand.Components.Plus4Code
	}

	canonicalParts := []string{cand.DeliveryLine1}
	if cand.DeliveryLine2 != "" {
		canonicalParts = append(canonicalParts, cand.DeliveryLine2)
	}
	if cand.LastLine != "" {
		canonicalParts = append(canonicalParts, cand.LastLine)
	}

	return &GeocodedAddress{
		CanonicalAddress: strings.Join(canonicalParts, ", "),
		Address1:         cand.DeliveryLine1,
		Address2:         cand.DeliveryLine2,
		City:             cand.Components.CityName,
		State:            cand.Components.StateAbbreviation,
		PostalCode:       postal,
		Latitude:         cand.Metadata.Latitude,
		Longitude:        cand.Metadata.Longitude,
	}
}
