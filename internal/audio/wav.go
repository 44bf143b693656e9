package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// HeaderSize is the length of the canonical RIFF/WAVE header.
const HeaderSize = 44

// ErrNotWAV is returned when decoding data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a wav file")

// EncodeWAV wraps pcm in a canonical 44-byte PCM WAV header.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := CheckPCM(pcm, f); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(pcm))
	if err := WriteWAV(&buf, pcm, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAV writes a WAV header followed by pcm to w.
func WriteWAV(w io.Writer, pcm []byte, f Format) error {
	header := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.FrameSize()),
		BitsPerSample: uint16(f.BitDepth),
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

// DecodeWAV extracts the PCM payload and format from a WAV file. Chunks
// other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var (
		f      Format
		gotFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			// Streams written without a final size leave data open ended.
			if id == "data" && gotFmt {
				return data[body:], f, nil
			}
			return nil, Format{}, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return nil, Format{}, fmt.Errorf("%w: audio format %d", ErrInvalidFormat, tag)
			}
			f = Format{
				Channels:   int(binary.LittleEndian.Uint16(data[body+2:])),
				SampleRate: int(binary.LittleEndian.Uint32(data[body+4:])),
				BitDepth:   int(binary.LittleEndian.Uint16(data[body+14:])),
			}
			gotFmt = true
		case "data":
			if !gotFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			return data[body : body+size], f, f.Validate()
		}

		// Chunks are word aligned.
		off = body + size + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// WriteWAVFile encodes pcm and places it at path atomically. It returns the
// number of bytes written.
func WriteWAVFile(path string, pcm []byte, f Format) (int64, error) {
	wav, err := EncodeWAV(pcm, f)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create audio directory: %w", err)
	}

	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, wav, 0o644); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write audio file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write audio file: %w", err)
	}
	return int64(len(wav)), nil
}
