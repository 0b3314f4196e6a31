package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	_ "golang.org/x/image/webp"
)

var (
	ErrAccessDenied = errors.New("camera access denied")
	ErrBusy         = errors.New("camera is already in use")
	ErrNoFrame      = errors.New("no camera frame available")
	ErrClosed       = errors.New("camera stream closed")
)

// DefaultJPEGQuality matches the 0.8 quality the capture step encodes with.
const DefaultJPEGQuality = 80

// Device is an exclusive frame source.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open handle on a Device. Close releases the device.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// Decode parses a JPEG, PNG or WebP frame.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrNoFrame
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode frame: %w", err)
	}
	return img, format, nil
}

// EncodeJPEG encodes img with the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// FrameBuffer is a Device fed by frames the browser pushes. The device counts
// as reachable only while frames keep arriving.
type FrameBuffer struct {
	mu         sync.Mutex
	latest     image.Image
	receivedAt time.Time
	open       bool
	maxAge     time.Duration
	now        func() time.Time
}

// NewFrameBuffer creates a buffer that treats frames older than maxAge as a
// disconnected camera.
func NewFrameBuffer(maxAge time.Duration) *FrameBuffer {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &FrameBuffer{maxAge: maxAge, now: time.Now}
}

// Push stores the newest frame.
func (b *FrameBuffer) Push(data []byte) error {
	img, _, err := Decode(data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.latest = img
	b.receivedAt = b.now()
	b.mu.Unlock()
	return nil
}

// Open acquires the device exclusively.
func (b *FrameBuffer) Open(_ context.Context) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		return nil, ErrBusy
	}
	if b.latest == nil || b.now().Sub(b.receivedAt) > b.maxAge {
		return nil, fmt.Errorf("%w: no recent frames from the browser camera", ErrAccessDenied)
	}
	b.open = true
	return &bufferStream{buffer: b}, nil
}

// Held reports whether a stream currently owns the device.
func (b *FrameBuffer) Held() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

type bufferStream struct {
	buffer *FrameBuffer
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (s *bufferStream) Frame(_ context.Context) (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	s.buffer.mu.Lock()
	defer s.buffer.mu.Unlock()
	if s.buffer.latest == nil {
		return nil, ErrNoFrame
	}
	return s.buffer.latest, nil
}

func (s *bufferStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.buffer.mu.Lock()
		s.buffer.open = false
		s.buffer.mu.Unlock()
	})
	return nil
}

// FileDevice serves a still image from disk. Used by the CLI.
type FileDevice struct {
	Path string
}

// Open reads and decodes the file.
func (d FileDevice) Open(_ context.Context) (Stream, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return &stillStream{img: img}, nil
}

type stillStream struct {
	img image.Image
}

func (s *stillStream) Frame(context.Context) (image.Image, error) {
	if s.img == nil {
		return nil, ErrClosed
	}
	return s.img, nil
}

func (s *stillStream) Close() error {
	s.img = nil
	return nil
}
