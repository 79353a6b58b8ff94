// Package imgupload publishes screenshots to a public image host so the
// model can fetch them by URL.
package imgupload

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/yalp/jsonpath"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

const (
	ServiceAuto          = "auto"
	ServiceNone          = "none"
	ServiceImgBB         = "imgbb"
	ServiceFreeImageHost = "freeimagehost"
	ServiceMagicAPI      = "magicapi"

	defaultTimeout = 30 * time.Second
)

// ErrNotConfigured is returned when no uploader can be selected.
var ErrNotConfigured = errors.New("no image upload service configured, check the API keys")

type Uploader interface {
	UploadBase64(ctx context.Context, data, name string) (string, error)
	UploadFile(ctx context.Context, path string) (string, error)
	Name() string
}

// NewFromConfig selects an uploader. With "auto" the first service whose key
// is set wins, in the order imgbb, freeimagehost, magicapi. "none" returns a
// nil Uploader and no error.
func NewFromConfig(cfg model.UploaderConfig) (Uploader, error) {
	timeout := defaultTimeout
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid uploader timeout %q", cfg.Timeout)
		}
		timeout = d
	}
	httpClient := &http.Client{Timeout: timeout}

	service := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if service == "" {
		service = ServiceAuto
	}
	if service == ServiceAuto {
		switch {
		case cfg.ImgBBKey != "":
			service = ServiceImgBB
		case cfg.FreeImgKey != "":
			service = ServiceFreeImageHost
		case cfg.MagicKey != "":
			service = ServiceMagicAPI
		default:
			return nil, ErrNotConfigured
		}
	}

	var up Uploader
	switch service {
	case ServiceNone:
		return nil, nil
	case ServiceImgBB:
		if cfg.ImgBBKey == "" {
			return nil, errors.Wrap(ErrNotConfigured, "imgbb_key is empty")
		}
		up = NewImgBB(cfg.ImgBBKey, WithHTTPClient(httpClient), WithExpiration(cfg.Expiration))
	case ServiceFreeImageHost:
		if cfg.FreeImgKey == "" {
			return nil, errors.Wrap(ErrNotConfigured, "freeimagehost_key is empty")
		}
		up = NewFreeImageHost(cfg.FreeImgKey, WithHTTPClient(httpClient))
	case ServiceMagicAPI:
		if cfg.MagicKey == "" {
			return nil, errors.Wrap(ErrNotConfigured, "magicapi_key is empty")
		}
		up = NewMagicAPI(cfg.MagicKey, WithHTTPClient(httpClient))
	default:
		return nil, errors.Errorf("unknown upload service %q", cfg.Provider)
	}

	logger.Logger.Info("Image uploader selected", "service", up.Name())
	return up, nil
}

// ============================================================================
// OPTIONS
// ============================================================================

type options struct {
	endpoint   string
	httpClient *http.Client
	expiration int
}

type Option func(*options)

func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithExpiration sets the image lifetime in seconds where the host supports it.
func WithExpiration(seconds int) Option {
	return func(o *options) { o.expiration = seconds }
}

func buildOptions(endpoint string, opts []Option) options {
	o := options{endpoint: endpoint}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return o
}

// ============================================================================
// HTTP HELPERS
// ============================================================================

// post sends the request and returns the first non-empty string found at
// urlPaths in the JSON response.
func post(client *http.Client, req *http.Request, service string, urlPaths ...string) (string, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to upload image to %s", service)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s response", service)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Errorf("%s upload failed, status code: %d, response body: %s", service, resp.StatusCode, truncate(body, 300))
	}

	var data any
	if err := sonic.Unmarshal(body, &data); err != nil {
		return "", errors.Wrapf(err, "invalid JSON response from %s", service)
	}
	for _, path := range urlPaths {
		v, err := jsonpath.Read(data, path)
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			logger.Logger.Debug("Image uploaded", "service", service, "url", s)
			return s, nil
		}
	}
	return "", errors.Errorf("%s response has no image URL: %s", service, truncate(body, 300))
}

func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, service string, urlPaths ...string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrapf(err, "failed to construct %s request", service)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return post(client, req, service, urlPaths...)
}

func readFileBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read image %s", path)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func truncate(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
