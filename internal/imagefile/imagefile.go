package imagefile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
)

const defaultQuality = 90

// Saved описание записанного файла.
type Saved struct {
	Path      string
	Width     int
	Height    int
	SizeBytes int
	MimeType  string
	// Transcoded true, если байты пришлось перекодировать под расширение файла или уменьшить.
	Transcoded bool
}

// Writer сохраняет сгенерированные изображения. Flash-модель отдаёт PNG под меткой image/jpeg,
// поэтому формат определяется по содержимому, а не по метке.
type Writer struct {
	maxWidth int
	quality  int
}

// NewWriter maxWidth <= 0 означает без уменьшения.
func NewWriter(maxWidth int) *Writer {
	return &Writer{maxWidth: maxWidth, quality: defaultQuality}
}

// Write записывает data в path. Если формат содержимого совпадает с расширением и ширина
// в пределах maxWidth, байты пишутся как есть.
func (w *Writer) Write(path string, data []byte) (Saved, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Saved{}, fmt.Errorf("response is not a decodable image: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return Saved{}, fmt.Errorf("invalid image size: %dx%d", cfg.Width, cfg.Height)
	}

	target := formatForExt(filepath.Ext(path))
	if target == "" {
		target = format
	}

	out := data
	width, height := cfg.Width, cfg.Height
	transcode := target != format || (w.maxWidth > 0 && width > w.maxWidth)
	if transcode {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Saved{}, fmt.Errorf("decode image: %w", err)
		}
		if w.maxWidth > 0 && width > w.maxWidth {
			height = max(1, height*w.maxWidth/width)
			width = w.maxWidth
			img = resizeNearest(img, width, height)
		}
		if out, err = encode(img, target, w.quality); err != nil {
			return Saved{}, err
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Saved{}, err
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return Saved{}, err
	}

	return Saved{
		Path:       path,
		Width:      width,
		Height:     height,
		SizeBytes:  len(out),
		MimeType:   "image/" + target,
		Transcoded: transcode,
	}, nil
}

func formatForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	default:
		return ""
	}
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case "png":
		err = png.Encode(&buf, img)
	default:
		err = errors.New("unsupported output format " + format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func resizeNearest(src image.Image, width int, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	b := src.Bounds()
	for y := range height {
		srcY := b.Min.Y + y*b.Dy()/height
		for x := range width {
			dst.Set(x, y, src.At(b.Min.X+x*b.Dx()/width, srcY))
		}
	}
	return dst
}
