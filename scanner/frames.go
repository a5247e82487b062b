package scanner

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/logger"
)

// FrameSource yields camera frames. NextFrame returns a nil image when no new frame is available.
type FrameSource interface {
	NextFrame(ctx context.Context) (image.Image, error)
}

// DirSource reads PNG and JPEG frames dropped into a directory, oldest name first.
// Each file is read once.
type DirSource struct {
	dir  string
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, seen: make(map[string]struct{})}
}

func (s *DirSource) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isFrameFile(name) {
			continue
		}
		if _, ok := s.seen[name]; ok {
			continue
		}
		s.seen[name] = struct{}{}
		img, err := decodeImageFile(filepath.Join(s.dir, name))
		if err != nil {
			logger.Debug("skip frame ", name, ": ", err)
			continue
		}
		return img, nil
	}
	return nil, nil
}

func isFrameFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// MemorySource is a frame queue fed by Push, used by the API and tests.
type MemorySource struct {
	frames chan image.Image
}

func NewMemorySource(size int) *MemorySource {
	if size <= 0 {
		size = 16
	}
	return &MemorySource{frames: make(chan image.Image, size)}
}

// Push queues a frame, dropping it when the queue is full.
func (s *MemorySource) Push(img image.Image) bool {
	select {
	case s.frames <- img:
		return true
	default:
		return false
	}
}

func (s *MemorySource) NextFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case img := <-s.frames:
		return img, nil
	default:
		return nil, nil
	}
}
