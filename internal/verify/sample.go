package verify

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime"
	"os"
	"path/filepath"
)

// Sample is the image sent to the prediction endpoint.
type Sample struct {
	Filename    string
	ContentType string
	Data        []byte
}

// LoadSample reads path, or generates a small PNG when path is empty.
func LoadSample(path string) (Sample, error) {
	if path == "" {
		return generatedSample()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Sample{}, fmt.Errorf("reading sample %s: %w", path, err)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "image/jpeg"
	}
	return Sample{Filename: filepath.Base(path), ContentType: ct, Data: data}, nil
}

func generatedSample() (Sample, error) {
	const size = 64
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Sample{}, fmt.Errorf("encoding sample: %w", err)
	}
	return Sample{Filename: "sample.png", ContentType: "image/png", Data: buf.Bytes()}, nil
}
