package vocals

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestImageDirSource(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 64, 48)
	writePNG(t, filepath.Join(dir, "a.PNG"), 32, 32)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o700))

	src, err := NewImageDirSource(dir, 16, 12)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	chunks := drain(t, src)
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.Equal(t, ChunkImage, c.Kind)
		assert.Equal(t, int64(i+1), c.Seq)
		assert.Equal(t, len(c.Data), c.Size)

		cfg, err := jpeg.DecodeConfig(bytes.NewReader(c.Data))
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Width)
		assert.Equal(t, 12, cfg.Height)
	}
}

func TestImageDirSource_KeepsSizeAndCloses(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame.png"), 20, 10)
	writePNG(t, filepath.Join(dir, "frame2.png"), 20, 10)

	src, err := NewImageDirSource(dir, 0, 0)
	require.NoError(t, err)

	c, err := src.Next(context.Background())
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(c.Data))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)
	assert.Equal(t, 10, cfg.Height)

	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestImageDirSource_Errors(t *testing.T) {
	_, err := NewImageDirSource(t.TempDir(), 16, 16)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapture)
	assert.Contains(t, FailureLine(err), "no images found")

	_, err = NewImageDirSource(filepath.Join(t.TempDir(), "missing"), 16, 16)
	assert.ErrorIs(t, err, ErrCapture)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0o600))
	src, err := NewImageDirSource(dir, 16, 16)
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapture)
}

func TestEncodeFrame(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 30))
	data, err := EncodeFrame(img, 8, 6, 50)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), decoded.Bounds())
}
