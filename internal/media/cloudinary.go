// Package media stores product images and store logos on Cloudinary.
package media

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"erp/ecommerce/storepro/internal/platform/httpx"
)

// ErrNotConfigured is returned when no Cloudinary credentials are set.
var ErrNotConfigured = fmt.Errorf("media: cloudinary is not configured: %w", httpx.ErrUnavailable)

// RootFolder prefixes every asset this service owns.
const RootFolder = "storepro/"

// Asset is an uploaded image.
type Asset struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// Target describes where an image goes and how it is constrained.
type Target struct {
	Folder    string
	MaxBytes  int64
	MaxWidth  int
	MaxHeight int
	Formats   []string
}

var (
	ProductImages = Target{
		Folder:   RootFolder + "products",
		MaxBytes: 5 << 20, MaxWidth: 1000, MaxHeight: 1000,
		Formats: []string{"jpg", "jpeg", "png", "webp", "gif"},
	}
	Logos = Target{
		Folder:   RootFolder + "logos",
		MaxBytes: 2 << 20, MaxWidth: 500, MaxHeight: 500,
		Formats: []string{"jpg", "jpeg", "png", "webp"},
	}
)

// Transformation is the Cloudinary incoming transformation for t.
func (t Target) Transformation() string {
	return fmt.Sprintf("c_limit,w_%d,h_%d", t.MaxWidth, t.MaxHeight)
}

// Allows reports whether format (without the dot) is accepted by t.
func (t Target) Allows(format string) bool {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	for _, f := range t.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Uploader is the image host.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, t Target) (Asset, error)
	Destroy(ctx context.Context, publicID string) error
}

type Cloudinary struct {
	cld     *cloudinary.Cloudinary
	timeout time.Duration
}

// NewCloudinary returns an Uploader for the given account. Missing credentials
// yield an uploader whose calls fail with ErrNotConfigured.
func NewCloudinary(cloudName, apiKey, apiSecret string, timeout time.Duration) (Uploader, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return disabled{}, nil
	}
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("media: cloudinary client: %w", err)
	}
	cld.Config.URL.Secure = true
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Cloudinary{cld: cld, timeout: timeout}, nil
}

func (c *Cloudinary) Upload(ctx context.Context, r io.Reader, t Target) (Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:         t.Folder,
		Transformation: t.Transformation(),
	})
	if err != nil {
		return Asset{}, fmt.Errorf("media: upload: %w", err)
	}
	if res.Error.Message != "" {
		return Asset{}, fmt.Errorf("media: upload: %s", res.Error.Message)
	}
	return Asset{URL: res.SecureURL, PublicID: res.PublicID}, nil
}

func (c *Cloudinary) Destroy(ctx context.Context, publicID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("media: destroy %s: %w", publicID, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("media: destroy %s: %s", publicID, res.Error.Message)
	}
	if res.Result == "not found" {
		return httpx.NotFound("media.Destroy", "image not found")
	}
	return nil
}

type disabled struct{}

func (disabled) Upload(context.Context, io.Reader, Target) (Asset, error) {
	return Asset{}, ErrNotConfigured
}

func (disabled) Destroy(context.Context, string) error { return ErrNotConfigured }
