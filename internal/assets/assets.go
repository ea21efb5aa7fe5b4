// Package assets загрузка ассетов (JSON-конфиги, скрипты, PNG) из
// нескольких источников с TTL-кэшем и ограниченным пулом загрузчиков.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"strings"
	"sync/atomic"
	"time"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Options параметры кэша и пула загрузки
type Options struct {
	TTL     time.Duration
	MaxCost int64
	Workers int
}

// DefaultOptions значения по умолчанию
func DefaultOptions() Options {
	return Options{
		TTL:     5 * time.Minute,
		MaxCost: 64 * 1024 * 1024,
		Workers: 4,
	}
}

// Stats счётчики попаданий в кэш
type Stats struct {
	Hits   int64
	Misses int64
	Loads  int64
}

// Assets набор источников; более поздний источник перекрывает ранние
type Assets struct {
	sources []Source
	cache   *ristretto.Cache[string, interface{}]
	group   singleflight.Group
	workers *semaphore.Weighted
	limit   int
	ttl     time.Duration
	logger  *logging.Logger

	hits   atomic.Int64
	misses atomic.Int64
	loads  atomic.Int64
}

// New создаёт хранилище ассетов
func New(opts Options, sources ...Source) (*Assets, error) {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.MaxCost <= 0 {
		opts.MaxCost = def.MaxCost
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, interface{}]{
		NumCounters: 10000,
		MaxCost:     opts.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("кэш ассетов: %w", err)
	}

	a := &Assets{
		sources: sources,
		cache:   cache,
		workers: semaphore.NewWeighted(int64(opts.Workers)),
		limit:   opts.Workers,
		ttl:     opts.TTL,
		logger:  logging.GetComponentLogger("assets"),
	}
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	a.logger.Info("📦 Ассеты: %d источник(ов) %v, TTL %v", len(sources), names, opts.TTL)
	return a, nil
}

// AddSource добавляет источник поверх существующих
func (a *Assets) AddSource(s Source) {
	a.sources = append(a.sources, s)
	a.cache.Clear()
}

// Close останавливает кэш
func (a *Assets) Close() {
	a.cache.Close()
}

// Stats текущие счётчики
func (a *Assets) Stats() Stats {
	return Stats{Hits: a.hits.Load(), Misses: a.misses.Load(), Loads: a.loads.Load()}
}

// getOrLoad возвращает значение из кэша или загружает его один раз
// для всех одновременных запросов, занимая слот пула загрузчиков.
func (a *Assets) getOrLoad(key string, load func() (interface{}, int64, error)) (interface{}, error) {
	if v, ok := a.cache.Get(key); ok {
		a.hits.Add(1)
		return v, nil
	}
	a.misses.Add(1)

	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		if err := a.workers.Acquire(context.Background(), 1); err != nil {
			return nil, err
		}
		defer a.workers.Release(1)

		a.loads.Add(1)
		val, cost, err := load()
		if err != nil {
			return nil, err
		}
		if cost < 1 {
			cost = 1
		}
		a.cache.SetWithTTL(key, val, cost, a.ttl)
		a.cache.Wait()
		return val, nil
	})
	return v, err
}

func (a *Assets) read(assetPath string) ([]byte, error) {
	var lastErr error
	for i := len(a.sources) - 1; i >= 0; i-- {
		data, err := a.sources[i].Read(assetPath)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrAssetMissing) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s: %w", assetPath, ErrAssetMissing)
}

// Exists ассет есть хотя бы в одном источнике
func (a *Assets) Exists(assetPath string) bool {
	_, err := a.Bytes(assetPath)
	return err == nil
}

// Bytes содержимое файла
func (a *Assets) Bytes(assetPath string) ([]byte, error) {
	assetPath = NormalizePath("/", assetPath)
	v, err := a.getOrLoad("bytes:"+assetPath, func() (interface{}, int64, error) {
		data, err := a.read(assetPath)
		return data, int64(len(data)), err
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Script исходный текст Lua-скрипта; сигнатура подходит как загрузчик require
func (a *Assets) Script(assetPath string) (string, error) {
	data, err := a.Bytes(assetPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// JSON разобранный JSON. Путь может содержать выборку "file.config:a.b".
func (a *Assets) JSON(assetPath string) (interface{}, error) {
	file, sub := splitSubPath(assetPath)
	file = NormalizePath("/", file)
	v, err := a.getOrLoad("json:"+file, func() (interface{}, int64, error) {
		data, err := a.read(file)
		if err != nil {
			return nil, 0, err
		}
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, 0, fmt.Errorf("разбор %s: %w", file, err)
		}
		return doc, int64(len(data)), nil
	})
	if err != nil {
		return nil, err
	}
	if sub == "" {
		return v, nil
	}
	return querySubPath(v, sub, assetPath)
}

// JSONInto разбирает JSON-ассет в структуру
func (a *Assets) JSONInto(assetPath string, out interface{}) error {
	doc, err := a.JSON(assetPath)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Image декодированное изображение (PNG)
func (a *Assets) Image(assetPath string) (image.Image, error) {
	assetPath = NormalizePath("/", assetPath)
	v, err := a.getOrLoad("image:"+assetPath, func() (interface{}, int64, error) {
		data, err := a.read(assetPath)
		if err != nil {
			return nil, 0, err
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, 0, fmt.Errorf("декодирование %s: %w", assetPath, err)
		}
		b := img.Bounds()
		return img, int64(b.Dx() * b.Dy() * 4), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

// List все пути с префиксом во всех источниках
func (a *Assets) List(prefix string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, s := range a.sources {
		paths, err := s.List(prefix)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Invalidate сбрасывает все закэшированные формы ассета
func (a *Assets) Invalidate(assetPath string) {
	assetPath = NormalizePath("/", assetPath)
	for _, prefix := range []string{"bytes:", "json:", "image:"} {
		a.cache.Del(prefix + assetPath)
	}
	a.cache.Wait()
}

// Preload загружает ассеты заранее параллельно, не больше Workers одновременно
func (a *Assets) Preload(ctx context.Context, paths ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var err error
			if strings.HasSuffix(p, ".png") {
				_, err = a.Image(p)
			} else {
				_, err = a.Bytes(p)
			}
			return err
		})
	}
	return g.Wait()
}

func splitSubPath(assetPath string) (string, string) {
	if i := strings.LastIndex(assetPath, ":"); i >= 0 {
		return assetPath[:i], assetPath[i+1:]
	}
	return assetPath, ""
}

// querySubPath выборка по пути "a.b.0" внутри JSON
func querySubPath(doc interface{}, sub, full string) (interface{}, error) {
	cur := doc
	for _, part := range strings.Split(sub, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("%s: %w", full, ErrAssetMissing)
			}
			cur = v
		case []interface{}:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%s: %w", full, ErrAssetMissing)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("%s: %w", full, ErrAssetMissing)
		}
	}
	return cur, nil
}
