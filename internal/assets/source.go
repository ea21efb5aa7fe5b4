package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrAssetMissing ассет не найден ни в одном источнике
var ErrAssetMissing = errors.New("ассет не найден")

// Source источник файлов ассетов. Пути абсолютные внутри источника: "/scripts/npc.lua".
type Source interface {
	Name() string
	Read(assetPath string) ([]byte, error)
	List(prefix string) ([]string, error)
}

// NormalizePath приводит путь к виду "/a/b.json"; относительный путь
// разрешается от каталога base.
func NormalizePath(base, assetPath string) string {
	if assetPath == "" {
		return ""
	}
	if !strings.HasPrefix(assetPath, "/") {
		dir := path.Dir(base)
		if base == "" {
			dir = "/"
		}
		assetPath = path.Join(dir, assetPath)
	}
	return path.Clean("/" + assetPath)
}

// DirectorySource ассеты из каталога на диске
type DirectorySource struct {
	root string
}

// NewDirectorySource создаёт источник поверх каталога root
func NewDirectorySource(root string) (*DirectorySource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("каталог ассетов %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s не каталог", root)
	}
	return &DirectorySource{root: root}, nil
}

func (d *DirectorySource) Name() string { return d.root }

func (d *DirectorySource) fsPath(assetPath string) string {
	clean := NormalizePath("/", assetPath)
	return filepath.Join(d.root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

func (d *DirectorySource) Read(assetPath string) ([]byte, error) {
	data, err := os.ReadFile(d.fsPath(assetPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", assetPath, ErrAssetMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", assetPath, err)
	}
	return data, nil
}

func (d *DirectorySource) List(prefix string) ([]string, error) {
	var out []string
	start := d.fsPath(prefix)
	err := filepath.WalkDir(start, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		out = append(out, "/"+filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	sort.Strings(out)
	return out, err
}

// MemorySource ассеты в памяти (тесты, сгенерированные данные)
type MemorySource struct {
	name  string
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemorySource создаёт источник из набора файлов
func NewMemorySource(name string, files map[string][]byte) *MemorySource {
	m := &MemorySource{name: name, files: make(map[string][]byte, len(files))}
	for p, data := range files {
		m.files[NormalizePath("/", p)] = data
	}
	return m
}

func (m *MemorySource) Name() string { return m.name }

// Put добавляет или заменяет файл
func (m *MemorySource) Put(assetPath string, data []byte) {
	m.mu.Lock()
	m.files[NormalizePath("/", assetPath)] = data
	m.mu.Unlock()
}

func (m *MemorySource) Read(assetPath string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[NormalizePath("/", assetPath)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", assetPath, ErrAssetMissing)
	}
	return data, nil
}

func (m *MemorySource) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix = NormalizePath("/", prefix)
	var out []string
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
