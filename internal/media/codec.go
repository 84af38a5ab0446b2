package media

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gennadis/voicechat/internal/chat"
)

const (
	wavHeaderSize    = 44
	pcmBitsPerSample = 16
	pcmFormat        = 1
)

// Blob is an encoded audio payload ready for upload or playback.
type Blob struct {
	Data     []byte
	Kind     Kind
	Duration time.Duration
}

// MIMEType returns the content type of the blob.
func (b *Blob) MIMEType() string { return b.Kind.MIMEType() }

// Filename returns the multipart filename used when uploading the blob.
func (b *Blob) Filename() string { return "audio" + b.Kind.Ext() }

// NewBlob wraps already encoded bytes.
func NewBlob(data []byte, kind Kind) *Blob {
	return &Blob{Data: data, Kind: kind}
}

// FloatToPCM16 converts float samples in [-1, 1] to signed 16-bit samples.
// Out of range input is clamped.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7FFF)
		}
	}
	return out
}

// EncodeWAV writes mono or interleaved PCM16 samples into a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format: rate %d, channels %d", sampleRate, channels)
	}
	dataSize := uint32(len(samples) * 2)
	blockAlign := uint16(channels * pcmBitsPerSample / 8)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(pcmFormat))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate)*uint32(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(buf, binary.LittleEndian, uint16(pcmBitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("write samples: %w", err)
	}
	return buf.Bytes(), nil
}

// WAVBlob encodes float samples as a 16-bit wav blob.
func WAVBlob(samples []float32, sampleRate int) (*Blob, error) {
	data, err := EncodeWAV(FloatToPCM16(samples), sampleRate, 1)
	if err != nil {
		return nil, err
	}
	return &Blob{
		Data:     data,
		Kind:     KindWAV,
		Duration: SamplesDuration(len(samples), sampleRate),
	}, nil
}

// SamplesDuration is the playback length of n mono samples.
func SamplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// EncodeBase64 returns the standard base64 form of data.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a plain base64 string or a data URL
// ("data:audio/wav;base64,....").
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		idx := strings.IndexByte(s, ',')
		if idx < 0 {
			return nil, &chat.DecodeError{What: "data url", Err: fmt.Errorf("missing payload separator")}
		}
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &chat.DecodeError{What: "base64 payload", Err: err}
	}
	return data, nil
}

// Detect sniffs the content type of an audio file and wraps it into a Blob.
// The filename extension is used when the content is not recognised.
func Detect(data []byte, filename string) *Blob {
	mtype := mimetype.Detect(data)
	kind := KindForContentType(mtype.String())
	if kind == KindUnknown {
		kind = KindForFilename(filename)
	}
	return &Blob{Data: data, Kind: kind}
}
