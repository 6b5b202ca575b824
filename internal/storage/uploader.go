// Package storage is the file storage collaborator. Uploaded images are
// normalised to JPEG and written under a public directory.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif" // Register GIF decoder
	_ "image/png" // Register PNG decoder

	"marketplace/internal/models"
	"marketplace/internal/observability"

	nanoid "github.com/jaevor/go-nanoid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// MaxDimension is the longest edge kept after normalisation.
	MaxDimension = 2048
	// JPEGQuality is the re-encode quality.
	JPEGQuality = 82
	// DefaultMaxBytes bounds an upload when no limit is configured.
	DefaultMaxBytes = 10 << 20

	imageFolder = "images"
)

// File is one uploaded file.
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Uploader stores a file and returns the URL it is served from.
type Uploader interface {
	Upload(ctx context.Context, f File) (string, error)
}

// Remover deletes a previously uploaded file by URL.
type Remover interface {
	Remove(ctx context.Context, url string) error
}

// LocalUploader writes normalised images to disk.
type LocalUploader struct {
	dir        string
	publicPath string
	maxBytes   int64
	now        func() time.Time
	newID      func() string
}

// NewLocalUploader stores files under dir and serves them below publicPath.
func NewLocalUploader(dir, publicPath string, maxBytes int64) (*LocalUploader, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(filepath.Join(dir, imageFolder), 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	gen, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("init id generator: %w", err)
	}
	return &LocalUploader{
		dir:        dir,
		publicPath: strings.TrimSuffix(publicPath, "/"),
		maxBytes:   maxBytes,
		now:        time.Now,
		newID:      gen,
	}, nil
}

// Upload validates, normalises and stores one image.
func (u *LocalUploader) Upload(ctx context.Context, f File) (string, error) {
	url, err := u.upload(ctx, f)
	if err != nil {
		observability.Uploads.WithLabelValues(observability.OutcomeFailed).Inc()
		return "", err
	}
	observability.Uploads.WithLabelValues(observability.OutcomeOK).Inc()
	return url, nil
}

func (u *LocalUploader) upload(ctx context.Context, f File) (string, error) {
	data, err := io.ReadAll(io.LimitReader(f.Reader, u.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", models.NewValidationError("The image file is empty.")
	}
	if int64(len(data)) > u.maxBytes {
		return "", models.NewValidationError(fmt.Sprintf("Images must be at most %d MB.", u.maxBytes>>20))
	}

	detected := http.DetectContentType(data)
	if !isAllowedImageMIME(detected) {
		return "", models.NewValidationError("Only JPEG, PNG, GIF and WebP images are supported.")
	}
	if f.ContentType != "" && !isAllowedImageMIME(f.ContentType) {
		return "", models.NewValidationError("Only JPEG, PNG, GIF and WebP images are supported.")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", models.NewValidationError("The image could not be decoded.")
	}
	img = resizeToFit(img, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%d_%s.jpg", u.now().UnixMilli(), u.newID())
	if err := os.WriteFile(filepath.Join(u.dir, imageFolder, name), buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path.Join(u.publicPath, imageFolder, name), nil
}

// Remove deletes an image previously returned by Upload.
func (u *LocalUploader) Remove(_ context.Context, url string) error {
	rel := strings.TrimPrefix(url, u.publicPath+"/")
	if rel == url || strings.Contains(rel, "..") {
		return fmt.Errorf("not an uploaded file: %s", url)
	}
	err := os.Remove(filepath.Join(u.dir, filepath.FromSlash(rel)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func resizeToFit(src image.Image, maxSize int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxSize && h <= maxSize {
		return src
	}

	scale := float64(maxSize) / float64(w)
	if s := float64(maxSize) / float64(h); s < scale {
		scale = s
	}
	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func isAllowedImageMIME(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}
