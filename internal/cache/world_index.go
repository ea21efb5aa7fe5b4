package cache

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/vec"
	"github.com/annel0/tileverse/internal/world/entity"
)

type indexOp struct {
	entry  UniqueEntry
	delete bool
}

// WorldIndex уникальные сущности одного мира. Put и Delete не блокируют тик:
// изменения уходят в очередь, которую горутина переносит в каталог.
type WorldIndex struct {
	dir    UniqueDirectory
	world  string
	queue  chan indexOp
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *logging.Logger
}

// NewWorldIndex запускает перенос изменений мира world в dir
func NewWorldIndex(dir UniqueDirectory, world string, queueSize int) *WorldIndex {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &WorldIndex{
		dir:    dir,
		world:  world,
		queue:  make(chan indexOp, queueSize),
		stop:   make(chan struct{}),
		logger: logging.GetComponentLogger("cache"),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *WorldIndex) Put(uniqueID string, id entity.EntityID, pos vec.Vec2F) {
	w.enqueue(indexOp{entry: UniqueEntry{
		UniqueID: uniqueID, World: w.world, EntityID: id, Position: pos, UpdatedAt: time.Now().UTC(),
	}})
}

func (w *WorldIndex) Delete(uniqueID string) {
	w.enqueue(indexOp{entry: UniqueEntry{UniqueID: uniqueID, World: w.world}, delete: true})
}

// Lookup запись мира из каталога
func (w *WorldIndex) Lookup(ctx context.Context, uniqueID string) (UniqueEntry, error) {
	return w.dir.Lookup(ctx, w.world, uniqueID)
}

func (w *WorldIndex) enqueue(op indexOp) {
	select {
	case w.queue <- op:
	default:
		// Очередь полна, пишем в отдельной горутине
		w.logger.Warn("⚠️ Очередь каталога мира %q заполнена, запись %s вне очереди", w.world, op.entry.UniqueID)
		go w.apply(op)
	}
}

func (w *WorldIndex) run() {
	defer w.wg.Done()
	for {
		select {
		case op := <-w.queue:
			w.apply(op)
		case <-w.stop:
			for {
				select {
				case op := <-w.queue:
					w.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (w *WorldIndex) apply(op indexOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if op.delete {
		err = w.dir.Delete(ctx, op.entry.World, op.entry.UniqueID)
	} else {
		err = w.dir.Put(ctx, op.entry)
	}
	if err != nil {
		w.logger.Error("❌ Каталог уникальных сущностей: %s: %v", op.entry.UniqueID, err)
	}
}

// Close переносит остаток очереди и останавливает горутину; каталог не закрывается
func (w *WorldIndex) Close() {
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()
	})
}
