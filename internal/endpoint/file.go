package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// File 以 YAML 文件保存，写入采用临时文件加重命名
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File { return &File{path: path} }

func (f *File) Path() string { return f.path }

func (f *File) Last(ctx context.Context) (Remembered, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *File) Remember(ctx context.Context, e Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.load()
	if err != nil {
		return err
	}
	r.Apply(e)
	return f.save(r)
}

func (f *File) load() (Remembered, error) {
	var r Remembered
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return r, fmt.Errorf("endpoint: read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(b, &r); err != nil {
		return Remembered{}, fmt.Errorf("endpoint: parse %s: %w", f.path, err)
	}
	return r, nil
}

func (f *File) save(r Remembered) error {
	b, err := yaml.Marshal(&r)
	if err != nil {
		return fmt.Errorf("endpoint: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("endpoint: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".endpoint-*.yaml")
	if err != nil {
		return fmt.Errorf("endpoint: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("endpoint: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("endpoint: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("endpoint: replace %s: %w", f.path, err)
	}
	return nil
}
