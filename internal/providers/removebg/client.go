// Package removebg wraps the background-removal segmentation service. The
// call is a single attempt; the caller decides whether a failed stage is
// retried by restarting the run.
package removebg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/imaging"
)

// Options configures the client. The API key is passed per call, not here.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

const (
	defaultBaseURL = "https://api.remove.bg/v1.0"
	defaultTimeout = 60 * time.Second
)

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}
}

// RemoveBackground strips the background from the supplied image and returns
// a transparent-capable payload.
func (c *Client) RemoveBackground(ctx context.Context, apiKey string, input imaging.Image) (imaging.Image, error) {
	if strings.TrimSpace(apiKey) == "" {
		return imaging.Image{}, domain.Errf(domain.ErrKindMissingCredential, "background removal key is missing")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	file, err := writer.CreateFormFile("image_file", "design.png")
	if err != nil {
		return imaging.Image{}, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := file.Write(input.Data); err != nil {
		return imaging.Image{}, fmt.Errorf("write multipart body: %w", err)
	}
	if err := writer.WriteField("size", "auto"); err != nil {
		return imaging.Image{}, fmt.Errorf("write multipart field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return imaging.Image{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/removebg", &body)
	if err != nil {
		return imaging.Image{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Api-Key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return imaging.Image{}, domain.WrapErr(domain.ErrKindBackendError, fmt.Errorf("invoke background removal: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Surface the raw body for diagnostics; the service reports
		// structured error details there.
		raw, _ := io.ReadAll(resp.Body)
		return imaging.Image{}, domain.BackendErr(resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return imaging.Image{}, fmt.Errorf("read response body: %w", err)
	}
	if len(data) == 0 {
		return imaging.Image{}, domain.Errf(domain.ErrKindEmptyResponse, "background removal returned an empty body")
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	c.logger.Debug().Int("bytes", len(data)).Msg("removebg: background removed")
	return imaging.Image{MIME: mime, Data: data}, nil
}
