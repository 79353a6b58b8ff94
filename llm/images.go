package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

const DefaultMaxImageBytes = 20 << 20

// ImageFetcher downloads remote images for backends that only accept
// inline image bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (mediaType string, data []byte, err error)
}

type HTTPImageFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPImageFetcher() *HTTPImageFetcher {
	return &HTTPImageFetcher{
		Client:   &http.Client{Timeout: 30 * time.Second},
		MaxBytes: DefaultMaxImageBytes,
	}
}

func (f *HTTPImageFetcher) Fetch(ctx context.Context, url string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download image %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("failed to download image %s: status %d", url, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxImageBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read image %s: %w", url, err)
	}
	if int64(len(data)) > limit {
		return "", nil, fmt.Errorf("image %s exceeds %d bytes", url, limit)
	}

	mediaType := resp.Header.Get("Content-Type")
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}

	logger.Logger.Debug("Fetched remote image for inline upload",
		"url", url,
		"media_type", mediaType,
		"bytes", len(data))
	return mediaType, data, nil
}

// ParseDataURI splits "data:<media type>;base64,<payload>" into its media
// type and decoded bytes.
func ParseDataURI(uri string) (string, []byte, error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, fmt.Errorf("not a data URI")
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("data URI has no payload separator")
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("only base64 data URIs are supported")
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("invalid base64 payload in data URI: %w", err)
		}
	}
	return mediaType, data, nil
}

func IsDataURI(url string) bool {
	return strings.HasPrefix(url, "data:")
}

func DataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// inlineImage resolves any image part to (media type, bytes), fetching
// remote URLs when needed.
func inlineImage(ctx context.Context, part model.ImagePart, fetcher ImageFetcher) (string, []byte, error) {
	switch {
	case len(part.Data) > 0:
		mediaType := part.MediaType
		if mediaType == "" {
			mediaType = http.DetectContentType(part.Data)
		}
		return mediaType, part.Data, nil
	case IsDataURI(part.URL):
		return ParseDataURI(part.URL)
	case part.URL != "":
		if fetcher == nil {
			return "", nil, fmt.Errorf("remote image %s requires a fetcher", part.URL)
		}
		return fetcher.Fetch(ctx, part.URL)
	}
	return "", nil, fmt.Errorf("image part has neither URL nor data")
}

// imageURL resolves any image part to a URL, encoding inline bytes as a data
// URI for backends that accept URLs natively.
func imageURL(part model.ImagePart) (string, error) {
	switch {
	case part.URL != "":
		return part.URL, nil
	case len(part.Data) > 0:
		mediaType := part.MediaType
		if mediaType == "" {
			mediaType = http.DetectContentType(part.Data)
		}
		return DataURI(mediaType, part.Data), nil
	}
	return "", fmt.Errorf("image part has neither URL nor data")
}
