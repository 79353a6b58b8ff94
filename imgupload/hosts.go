package imgupload

import (
	"bytes"
	"context"
	"encoding/base64"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

const (
	ImgBBEndpoint         = "https://api.imgbb.com/1/upload"
	FreeImageHostEndpoint = "https://freeimage.host/api/1/upload"
	MagicAPIEndpoint      = "https://api.magicapi.dev/api/v1/image-upload/upload"
)

// ============================================================================
// IMGBB
// ============================================================================

type ImgBB struct {
	key string
	options
}

func NewImgBB(key string, opts ...Option) *ImgBB {
	return &ImgBB{key: key, options: buildOptions(ImgBBEndpoint, opts)}
}

func (u *ImgBB) Name() string { return ServiceImgBB }

func (u *ImgBB) UploadBase64(ctx context.Context, data, name string) (string, error) {
	if name == "" {
		name = "screenshot.png"
	}
	form := url.Values{
		"key":   {u.key},
		"image": {data},
		"name":  {name},
	}
	if u.expiration > 0 {
		form.Set("expiration", strconv.Itoa(u.expiration))
	}
	return postForm(ctx, u.httpClient, u.endpoint, form, ServiceImgBB, "$.data.display_url")
}

func (u *ImgBB) UploadFile(ctx context.Context, path string) (string, error) {
	data, err := readFileBase64(path)
	if err != nil {
		return "", err
	}
	return u.UploadBase64(ctx, data, filepath.Base(path))
}

// ============================================================================
// FREEIMAGE.HOST
// ============================================================================

type FreeImageHost struct {
	key string
	options
}

func NewFreeImageHost(key string, opts ...Option) *FreeImageHost {
	return &FreeImageHost{key: key, options: buildOptions(FreeImageHostEndpoint, opts)}
}

func (u *FreeImageHost) Name() string { return ServiceFreeImageHost }

// UploadBase64 ignores name; the host assigns its own.
func (u *FreeImageHost) UploadBase64(ctx context.Context, data, _ string) (string, error) {
	form := url.Values{
		"key":    {u.key},
		"action": {"upload"},
		"source": {data},
		"format": {"json"},
	}
	return postForm(ctx, u.httpClient, u.endpoint, form, ServiceFreeImageHost, "$.image.display_url", "$.image.url")
}

func (u *FreeImageHost) UploadFile(ctx context.Context, path string) (string, error) {
	data, err := readFileBase64(path)
	if err != nil {
		return "", err
	}
	return u.UploadBase64(ctx, data, filepath.Base(path))
}

// ============================================================================
// MAGICAPI
// ============================================================================

// MagicAPI only accepts multipart file uploads, so base64 input is decoded
// and sent as a PNG file part.
type MagicAPI struct {
	key string
	options
}

func NewMagicAPI(key string, opts ...Option) *MagicAPI {
	return &MagicAPI{key: key, options: buildOptions(MagicAPIEndpoint, opts)}
}

func (u *MagicAPI) Name() string { return ServiceMagicAPI }

func (u *MagicAPI) UploadBase64(ctx context.Context, data, name string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", errors.Wrap(err, "magicapi upload needs valid base64 image data")
	}
	if name == "" {
		name = "screenshot.png"
	}
	return u.upload(ctx, raw, name)
}

func (u *MagicAPI) UploadFile(ctx context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read image %s", path)
	}
	return u.upload(ctx, raw, filepath.Base(path))
}

func (u *MagicAPI) upload(ctx context.Context, raw []byte, name string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="filename"; filename="`+escapeQuotes(name)+`"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", errors.Wrap(err, "failed to create multipart body")
	}
	if _, err := part.Write(raw); err != nil {
		return "", errors.Wrap(err, "failed to write multipart body")
	}
	if err := mw.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finish multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return "", errors.Wrap(err, "failed to construct magicapi request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-magicapi-key", u.key)
	return post(u.httpClient, req, ServiceMagicAPI, "$.url")
}

func escapeQuotes(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '"' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
