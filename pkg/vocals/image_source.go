package vocals

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"
)

// ImageDirSource emits the still images of a directory, in name order, as
// JPEG frames of a fixed resolution. It stands in for a camera.
type ImageDirSource struct {
	paths   []string
	pos     int
	width   int
	height  int
	quality int
	seq     int64
}

// NewImageDirSource lists the .jpg/.jpeg/.png files in dir. A zero width or
// height keeps the original size.
func NewImageDirSource(dir string, width, height int) (*ImageDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewCaptureError("failed to open image directory", 0, err.Error(), err).AddDetail("dir", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, NewCaptureError("no images found", 0, "directory contains no jpeg or png files", nil).AddDetail("dir", dir)
	}
	sort.Strings(paths)
	return &ImageDirSource{paths: paths, width: width, height: height, quality: 85}, nil
}

func (s *ImageDirSource) Len() int {
	return len(s.paths)
}

func (s *ImageDirSource) Next(ctx context.Context) (CaptureChunk, error) {
	if err := ctx.Err(); err != nil {
		return CaptureChunk{}, err
	}
	if s.pos >= len(s.paths) {
		return CaptureChunk{}, io.EOF
	}
	path := s.paths[s.pos]
	s.pos++

	data, err := s.frame(path)
	if err != nil {
		return CaptureChunk{}, NewCaptureError("failed to read frame", 0, err.Error(), err).AddDetail("path", path)
	}
	s.seq++
	return CaptureChunk{Data: data, Size: len(data), Kind: ChunkImage, Seq: s.seq}, nil
}

func (s *ImageDirSource) frame(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(src, s.width, s.height, s.quality)
}

// EncodeFrame scales img to width x height and encodes it as JPEG.
func EncodeFrame(img image.Image, width, height, quality int) ([]byte, error) {
	out := img
	b := img.Bounds()
	if width > 0 && height > 0 && (b.Dx() != width || b.Dy() != height) {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		out = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *ImageDirSource) Close() error {
	s.pos = len(s.paths)
	return nil
}
