package encounter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cascadia-health/study-export/internal/model"
)

// RejectedError reports that the partner API refused an encounter. A
// rejection affects only that record; the pipeline logs it and moves on.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("encounter: partner rejected upload with status %d", e.StatusCode)
}

// Uploader delivers one encounter to the partner API.
type Uploader interface {
	Upload(ctx context.Context, enc *model.Encounter) error
}

// Client is the HTTP Uploader. Each encounter is a single basic-auth POST
// with no retry; a failed run leaves the record pending for the next run.
type Client struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
}

// NewClient creates an Uploader for the partner API.
func NewClient(baseURL, user, password string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		user:       user,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload implements Uploader. Connection failures are returned as-is and
// abort the run; HTTP rejections come back as a RejectedError.
func (c *Client) Upload(ctx context.Context, enc *model.Encounter) error {
	payload, err := json.Marshal(enc)
	if err != nil {
		return eris.Wrap(err, "encounter: marshal upload")
	}

	url := c.baseURL + "/api/encounter/" + enc.ID
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "encounter: build upload request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "encounter: partner request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
