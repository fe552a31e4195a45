package video

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Binary wire format for persisting clips through an object store:
// magic "CVID", version, resolution, frame rate, frame count, then raw
// float64 pixel planes per frame. Big-endian throughout.

const (
	wireMagic   = "CVID"
	wireVersion = uint16(1)
)

// Marshal serializes the clip into the binary wire format.
func (v *Video) Marshal() ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(wireMagic)

	var scratch [8]byte
	binary.BigEndian.PutUint16(scratch[:2], wireVersion)
	buf.Write(scratch[:2])
	binary.BigEndian.PutUint32(scratch[:4], uint32(v.Resolution.Width))
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint32(scratch[:4], uint32(v.Resolution.Height))
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint64(scratch[:], math.Float64bits(v.FrameRate))
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], uint64(v.Duration))
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(v.Frames)))
	buf.Write(scratch[:4])

	for i := range v.Frames {
		for _, p := range v.Frames[i].Pixels {
			binary.BigEndian.PutUint64(scratch[:], math.Float64bits(p))
			buf.Write(scratch[:])
		}
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a clip from the binary wire format.
func Unmarshal(data []byte) (*Video, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := r.Read(magic); err != nil || string(magic) != wireMagic {
		return nil, fmt.Errorf("video: bad magic header")
	}

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("video: read version: %w", err)
	}
	if version != wireVersion {
		return nil, fmt.Errorf("video: unsupported wire version %d", version)
	}

	var width, height uint32
	var rateBits, durBits uint64
	var frameCount uint32
	if err := binary.Read(r, binary.BigEndian, &width); err != nil {
		return nil, fmt.Errorf("video: read width: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &height); err != nil {
		return nil, fmt.Errorf("video: read height: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &rateBits); err != nil {
		return nil, fmt.Errorf("video: read frame rate: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &durBits); err != nil {
		return nil, fmt.Errorf("video: read duration: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &frameCount); err != nil {
		return nil, fmt.Errorf("video: read frame count: %w", err)
	}

	res := Resolution{Width: int(width), Height: int(height)}
	if !res.Valid() {
		return nil, fmt.Errorf("video: invalid resolution %s in header", res)
	}
	pixelsPerFrame := res.Pixels()
	if remaining := r.Len(); remaining != int(frameCount)*pixelsPerFrame*8 {
		return nil, fmt.Errorf("video: payload is %d bytes, want %d for %d frames",
			remaining, int(frameCount)*pixelsPerFrame*8, frameCount)
	}

	v := &Video{
		Frames:     make([]Frame, frameCount),
		Resolution: res,
		FrameRate:  math.Float64frombits(rateBits),
		Duration:   time.Duration(durBits),
	}
	for i := range v.Frames {
		pixels := make([]float64, pixelsPerFrame)
		for j := range pixels {
			var bits uint64
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, fmt.Errorf("video: read frame %d: %w", i, err)
			}
			pixels[j] = math.Float64frombits(bits)
		}
		v.Frames[i] = Frame{Pixels: pixels, Resolution: res}
	}
	return v, v.Validate()
}
