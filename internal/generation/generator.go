package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/config"
)

const maxErrorBody = 512

// Image is the generator's output.
type Image struct {
	Data        []byte
	ContentType string
	// RefinedDescription is the prompt the generator actually rendered, if it reports one.
	RefinedDescription string
}

// ImageGenerator produces an image for a spec. Implementations must honor ctx.
type ImageGenerator interface {
	Generate(ctx context.Context, spec Spec) (*Image, error)
}

type generateRequest struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Quality     string `json:"quality"`
	Size        string `json:"size"`
	Context     string `json:"context,omitempty"`
}

type generateResponse struct {
	Image              string `json:"image"`
	ContentType        string `json:"content_type"`
	RefinedDescription string `json:"refined_description"`
}

// HTTPGenerator calls the image generation service over JSON/HTTP.
type HTTPGenerator struct {
	endpoint           string
	apiKey             string
	defaultContentType string
	client             *http.Client
}

// NewHTTPGenerator builds the generator client. A nil client gets one with cfg.Timeout.
func NewHTTPGenerator(cfg config.GenerationConfig, client *http.Client) (*HTTPGenerator, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("generator endpoint required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "image/webp"
	}
	return &HTTPGenerator{
		endpoint:           endpoint,
		apiKey:             cfg.APIKey,
		defaultContentType: contentType,
		client:             client,
	}, nil
}

func (g *HTTPGenerator) Generate(ctx context.Context, spec Spec) (*Image, error) {
	body, err := json.Marshal(generateRequest{
		Type:        string(spec.Type),
		Description: spec.Description,
		Quality:     string(spec.Quality),
		Size:        spec.AspectRatio.Size(),
		Context:     spec.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("generator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generator response: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("generator returned an empty image")
	}
	contentType := out.ContentType
	if contentType == "" {
		contentType = g.defaultContentType
	}
	return &Image{Data: data, ContentType: contentType, RefinedDescription: strings.TrimSpace(out.RefinedDescription)}, nil
}
