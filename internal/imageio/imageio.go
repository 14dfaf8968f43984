// Package imageio provides the local image operations consumed by the
// pipelines: thumbnails, before/after comparison composition and base64
// payload codecs. All functions take and return file paths or raw bytes;
// nothing here touches task state.
package imageio

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

// Thumbnail writes a bounded thumbnail of srcPath to dstPath.
func Thumbnail(srcPath, dstPath string, width, height int) error {
	img, err := imaging.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}

	thumb := imaging.Thumbnail(img, width, height, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(dstPath), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := imaging.Save(thumb, dstPath, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}

	return nil
}

// ComposeComparison joins the before and after images side by side with a
// vertical divider and writes the canvas to dstPath as JPEG.
// Both sides are scaled to a common height.
func ComposeComparison(beforePath, afterPath, dstPath string) error {
	before, err := imaging.Open(beforePath)
	if err != nil {
		return fmt.Errorf("failed to open before image: %w", err)
	}
	after, err := imaging.Open(afterPath)
	if err != nil {
		return fmt.Errorf("failed to open after image: %w", err)
	}

	height := before.Bounds().Dy()
	if after.Bounds().Dy() > height {
		height = after.Bounds().Dy()
	}
	before = resizeToHeight(before, height)
	after = resizeToHeight(after, height)

	bw := before.Bounds().Dx()
	aw := after.Bounds().Dx()

	dc := gg.NewContext(bw+aw, height)
	dc.SetColor(color.Black)
	dc.Clear()
	dc.DrawImage(before, 0, 0)
	dc.DrawImage(after, bw, 0)

	// Divider: wide white line with a thin black core.
	x := float64(bw)
	dc.SetColor(color.White)
	dc.SetLineWidth(6)
	dc.DrawLine(x, 0, x, float64(height))
	dc.Stroke()
	dc.SetColor(color.Black)
	dc.SetLineWidth(2)
	dc.DrawLine(x, 0, x, float64(height))
	dc.Stroke()

	if err := os.MkdirAll(filepath.Dir(dstPath), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := imaging.Save(dc.Image(), dstPath, imaging.JPEGQuality(95)); err != nil {
		return fmt.Errorf("failed to save comparison image: %w", err)
	}

	return nil
}

// EncodeBase64 reads the file at path and returns its base64 encoding.
func EncodeBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeBase64 decodes a base64 image payload back into raw bytes.
// A data-URL prefix ("data:image/...;base64,") is tolerated and stripped.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return data, nil
}

// Dimensions returns the pixel size and format name of the image at path.
func Dimensions(path string) (width, height int, format string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, format, nil
}

func resizeToHeight(img image.Image, height int) image.Image {
	if img.Bounds().Dy() == height {
		return img
	}
	return imaging.Resize(img, 0, height, imaging.Lanczos)
}
