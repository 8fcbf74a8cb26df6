package vocals

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WAVFormat describes a PCM WAV stream.
type WAVFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ReadWAVHeader consumes the RIFF header of r up to the start of the data
// chunk. Only 16-bit PCM is accepted.
func ReadWAVHeader(r io.Reader) (WAVFormat, int64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVFormat{}, 0, fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVFormat{}, 0, fmt.Errorf("not a WAV file")
	}

	var format WAVFormat
	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WAVFormat{}, 0, fmt.Errorf("reading chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVFormat{}, 0, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if size < 16 {
				return WAVFormat{}, 0, fmt.Errorf("fmt chunk too short: %d", size)
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return WAVFormat{}, 0, fmt.Errorf("unsupported WAV encoding %d", tag)
			}
			format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if format.BitsPerSample != 16 {
				return WAVFormat{}, 0, fmt.Errorf("unsupported bit depth %d", format.BitsPerSample)
			}
			haveFmt = true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return WAVFormat{}, 0, err
				}
			}
		case "data":
			if !haveFmt {
				return WAVFormat{}, 0, fmt.Errorf("data chunk before fmt chunk")
			}
			return format, size, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return WAVFormat{}, 0, fmt.Errorf("skipping %q chunk: %w", id, err)
			}
		}
	}
}

// EncodeWAV wraps PCM16 data in a canonical 44-byte header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// WAVSource streams the PCM payload of a WAV file in fixed-size chunks.
type WAVSource struct {
	*ReaderSource
	Format WAVFormat
}

// OpenWAVSource opens path and positions it at the first sample. Chunks are
// chunkSize bytes; the file is closed by Close.
func OpenWAVSource(path string, chunkSize int) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewCaptureError("failed to open audio file", 0, err.Error(), err).AddDetail("path", path)
	}
	format, size, err := ReadWAVHeader(f)
	if err != nil {
		_ = f.Close()
		return nil, NewCaptureError("failed to parse audio file", 0, err.Error(), err).AddDetail("path", path)
	}
	src := NewReaderSource(io.LimitReader(f, size), chunkSize, ChunkAudio)
	src.closer = f
	return &WAVSource{ReaderSource: src, Format: format}, nil
}
