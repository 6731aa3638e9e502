package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

var ErrNoWaveform = errors.New("no waveform data")

// ExportImage encodes every rendered wave tile, row by row. Quality in [0, 1]
// applies to JPEG only.
func (r *Renderer) ExportImage(format string, quality float64) ([][]byte, error) {
	var out [][]byte
	for _, layer := range r.Layers() {
		for _, t := range layer.Tiles {
			data, err := encodeImage(t.Wave, format, quality)
			if err != nil {
				return nil, err
			}
			out = append(out, data)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoWaveform
	}
	return out, nil
}

// ExportDataURLs is ExportImage with each tile as a data: URL.
func (r *Renderer) ExportDataURLs(format string, quality float64) ([]string, error) {
	blobs, err := r.ExportImage(format, quality)
	if err != nil {
		return nil, err
	}
	mime := normalizeFormat(format)
	urls := make([]string, len(blobs))
	for i, b := range blobs {
		urls[i] = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
	}
	return urls, nil
}

func normalizeFormat(format string) string {
	switch format {
	case "image/jpeg", "jpeg", "jpg":
		return "image/jpeg"
	case "image/bmp", "bmp":
		return "image/bmp"
	case "image/tiff", "tiff", "tif":
		return "image/tiff"
	}
	return "image/png"
}

func encodeImage(img image.Image, format string, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch normalizeFormat(format) {
	case "image/jpeg":
		q := 92
		if quality > 0 {
			q = int(math.Round(clampf(quality, 0, 1) * 100))
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	case "image/bmp":
		err = bmp.Encode(&buf, img)
	case "image/tiff":
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
