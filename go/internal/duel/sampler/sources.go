package sampler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// StaticSource returns the same frame every time.
type StaticSource []byte

func (s StaticSource) Frame(context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrNoFrame
	}
	return s, nil
}

// DirSource replays the JPEG files of a directory in name order, wrapping around.
// It stands in for a camera in the headless client.
type DirSource struct {
	mu    sync.Mutex
	files []string
	next  int
}

var frameExtensions = map[string]bool{".jpg": true, ".jpeg": true}

func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrame, dir)
	}
	sort.Strings(files)
	return &DirSource{files: files}, nil
}

func (d *DirSource) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", filepath.Base(path), err)
	}
	return data, nil
}
