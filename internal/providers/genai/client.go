// Package genai is a lightweight facade over the Gemini REST API covering
// the three capabilities the studio pipeline consumes: image generation,
// design analysis, and structured marketing copy.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/imaging"
	"studio/internal/providers/prompt"
)

// Options controls how the client is configured. Credentials are not part of
// the options on purpose: the host passes them into every call.
type Options struct {
	BaseURL    string
	ImageModel string
	TextModel  string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client wraps the Gemini generateContent endpoint. All invocations are
// single attempts; retry policy belongs to the caller.
type Client struct {
	baseURL    string
	imageModel string
	textModel  string
	httpClient *http.Client
	logger     zerolog.Logger
}

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	defaultImageModel = "gemini-2.5-flash-image"
	defaultTextModel  = "gemini-2.5-flash"
	defaultTimeout    = 120 * time.Second
)

// NewClient constructs a client with sane defaults. A nil HTTP client gets a
// reusable one with a generous timeout, since image generation is slow.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = defaultImageModel
	}
	textModel := strings.TrimSpace(opts.TextModel)
	if textModel == "" {
		textModel = defaultTextModel
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:    baseURL,
		imageModel: imageModel,
		textModel:  textModel,
		httpClient: httpClient,
		logger:     logger,
	}
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generationConfig struct {
	Temperature        float64         `json:"temperature,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	ResponseMimeType   string          `json:"responseMimeType,omitempty"`
	ResponseSchema     *responseSchema `json:"responseSchema,omitempty"`
}

type responseSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]responseSchema `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

type safetyRating struct {
	Category    string `json:"category,omitempty"`
	Probability string `json:"probability,omitempty"`
}

type candidate struct {
	Content       content        `json:"content"`
	FinishReason  string         `json:"finishReason,omitempty"`
	SafetyRatings []safetyRating `json:"safetyRatings,omitempty"`
}

type promptFeedback struct {
	BlockReason   string         `json:"blockReason,omitempty"`
	SafetyRatings []safetyRating `json:"safetyRatings,omitempty"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// GenerateImage sends the prompt together with the input image and returns
// exactly one generated image payload, classified per the studio's taxonomy.
func (c *Client) GenerateImage(ctx context.Context, apiKey, promptText string, input imaging.Image) (imaging.Image, error) {
	if strings.TrimSpace(apiKey) == "" {
		return imaging.Image{}, domain.Errf(domain.ErrKindMissingCredential, "image generation key is missing")
	}
	payload := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: promptText},
				imagePart(input),
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}

	var resp generateContentResponse
	if err := c.invoke(ctx, apiKey, c.imageModel, payload, &resp); err != nil {
		return imaging.Image{}, err
	}
	return classifyImageResponse(&resp)
}

// AnalyzeDesign asks the text model for the design's dominant color and a
// reproduction prompt, and extracts both from the reply.
func (c *Client) AnalyzeDesign(ctx context.Context, apiKey string, mode domain.RunMode, input imaging.Image) (domain.AnalysisResult, error) {
	if strings.TrimSpace(apiKey) == "" {
		return domain.AnalysisResult{}, domain.Errf(domain.ErrKindMissingCredential, "image generation key is missing")
	}
	payload := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: analysisInstruction(mode)},
				imagePart(input),
			},
		}},
		GenerationConfig: &generationConfig{Temperature: 0.4},
	}

	var resp generateContentResponse
	if err := c.invoke(ctx, apiKey, c.textModel, payload, &resp); err != nil {
		return domain.AnalysisResult{}, err
	}
	text, err := classifyTextResponse(&resp)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	basePrompt, err := prompt.ExtractBasePrompt(text)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return domain.AnalysisResult{
		DominantColor: prompt.ExtractDominantColor(text),
		BasePrompt:    basePrompt,
	}, nil
}

const detailsInstruction = `Write marketing copy for the product design in the supplied image.
Return a title (catchy, under 60 characters), a description (two or three sentences for a product listing), and tags (a single comma-separated string of 8-12 lowercase keywords).`

type detailsPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
}

// GenerateDetails requests marketing copy constrained to exactly three
// string fields via a response schema.
func (c *Client) GenerateDetails(ctx context.Context, apiKey string, input imaging.Image) (domain.ProductDetails, error) {
	if strings.TrimSpace(apiKey) == "" {
		return domain.ProductDetails{}, domain.Errf(domain.ErrKindMissingCredential, "image generation key is missing")
	}
	payload := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: detailsInstruction},
				imagePart(input),
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema: &responseSchema{
				Type: "OBJECT",
				Properties: map[string]responseSchema{
					"title":       {Type: "STRING"},
					"description": {Type: "STRING"},
					"tags":        {Type: "STRING"},
				},
				Required: []string{"title", "description", "tags"},
			},
		},
	}

	var resp generateContentResponse
	if err := c.invoke(ctx, apiKey, c.textModel, payload, &resp); err != nil {
		return domain.ProductDetails{}, err
	}
	text, err := classifyTextResponse(&resp)
	if err != nil {
		return domain.ProductDetails{}, err
	}
	var details detailsPayload
	if err := json.Unmarshal([]byte(text), &details); err != nil {
		return domain.ProductDetails{}, domain.Errf(domain.ErrKindMalformedResponse, "details reply is not the expected structure: %v", err)
	}
	if strings.TrimSpace(details.Title) == "" {
		return domain.ProductDetails{}, domain.Errf(domain.ErrKindMalformedResponse, "details reply is missing a title")
	}
	return domain.ProductDetails{
		Title:       details.Title,
		Description: details.Description,
		Tags:        details.Tags,
	}, nil
}

func analysisInstruction(mode domain.RunMode) string {
	task := "one detailed paragraph instructing an image model to recreate this design faithfully, preserving its composition, style, and typography"
	if mode == domain.ModeRedesign {
		task = "one detailed paragraph instructing an image model to produce a fresh redesign that keeps the theme and spirit of this design but reinterprets its composition and style"
	}
	return "Study the supplied product design image.\n" +
		"Reply in exactly this format, with nothing before or after:\n" +
		"COLOR: <the design's single dominant color as a #rrggbb hex value>\n" +
		"PROMPT: <" + task + ">\n" +
		"The PROMPT paragraph must end with the exact phrase \"on a solid white background.\""
}

func imagePart(img imaging.Image) part {
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	return part{InlineData: &inlineData{
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(img.Data),
	}}
}

func (c *Client) invoke(ctx context.Context, apiKey, model string, payload any, out *generateContentResponse) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapErr(domain.ErrKindBackendError, fmt.Errorf("invoke gemini: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		var remote apiError
		if err := json.Unmarshal(data, &remote); err == nil && remote.Error.Message != "" {
			return domain.BackendErr(resp.StatusCode, remote.Error.Message)
		}
		return domain.BackendErr(resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Errf(domain.ErrKindMalformedResponse, "decode gemini response: %v", err)
	}

	c.logger.Debug().Str("model", model).Int("candidates", len(out.Candidates)).Msg("genai: generateContent completed")
	return nil
}

// classifyImageResponse maps a raw reply onto the studio's result taxonomy.
// The order of checks is load-bearing: block reason, then safety ratings,
// then emptiness, then image parts, then explanatory text. Each check
// short-circuits the next, so a blocked reply that still carries an image
// part classifies as blocked.
func classifyImageResponse(resp *generateContentResponse) (imaging.Image, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return imaging.Image{}, domain.Errf(domain.ErrKindBlockedContent, "request blocked: %s", resp.PromptFeedback.BlockReason)
	}

	if category := flaggedCategory(resp); category != "" {
		return imaging.Image{}, domain.Errf(domain.ErrKindFilteredContent, "response filtered for category %s", category)
	}

	var parts []part
	for _, cand := range resp.Candidates {
		parts = append(parts, cand.Content.Parts...)
	}
	if len(parts) == 0 {
		return imaging.Image{}, domain.Errf(domain.ErrKindEmptyResponse, "backend returned no content")
	}

	// The first part carrying image data is authoritative.
	for _, p := range parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return imaging.Image{}, domain.Errf(domain.ErrKindDecodeError, "decode inline image data: %v", err)
			}
			mime := p.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			return imaging.Image{MIME: mime, Data: data}, nil
		}
	}

	if text := collectText(parts); text != "" {
		return imaging.Image{}, domain.Errf(domain.ErrKindTextOnlyResponse, "backend returned text instead of an image: %s", text)
	}
	return imaging.Image{}, domain.Errf(domain.ErrKindNoImageReturned, "backend returned content parts without image data")
}

// classifyTextResponse applies the same block/safety/emptiness ordering and
// returns the concatenated text of the reply.
func classifyTextResponse(resp *generateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", domain.Errf(domain.ErrKindBlockedContent, "request blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if category := flaggedCategory(resp); category != "" {
		return "", domain.Errf(domain.ErrKindFilteredContent, "response filtered for category %s", category)
	}
	var parts []part
	for _, cand := range resp.Candidates {
		parts = append(parts, cand.Content.Parts...)
	}
	text := collectText(parts)
	if text == "" {
		return "", domain.Errf(domain.ErrKindEmptyResponse, "backend returned no text")
	}
	return text, nil
}

// flaggedCategory returns the first harm category reported with high or
// medium probability, across prompt feedback and all candidates.
func flaggedCategory(resp *generateContentResponse) string {
	var ratings []safetyRating
	if resp.PromptFeedback != nil {
		ratings = append(ratings, resp.PromptFeedback.SafetyRatings...)
	}
	for _, cand := range resp.Candidates {
		ratings = append(ratings, cand.SafetyRatings...)
	}
	for _, rating := range ratings {
		switch strings.ToUpper(rating.Probability) {
		case "HIGH", "MEDIUM":
			return rating.Category
		}
	}
	return ""
}

func collectText(parts []part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}
