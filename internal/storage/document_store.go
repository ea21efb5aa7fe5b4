package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// ErrNotReady хранилище закрыто
var ErrNotReady = errors.New("хранилище не готово")

// DocumentStore версионированные документы (игроки, миры) в BadgerDB.
// При чтении документы приводятся к текущей версии через Versioning.
type DocumentStore struct {
	db         *badger.DB
	versioning *Versioning
	mutex      sync.RWMutex
	isReady    bool
}

// OpenBadger открывает базу в каталоге dir без логов badger
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB %s: %w", dir, err)
	}
	return db, nil
}

// NewDocumentStore открывает хранилище документов в dataPath/documents
func NewDocumentStore(dataPath string, versioning *Versioning) (*DocumentStore, error) {
	db, err := OpenBadger(filepath.Join(dataPath, "documents"))
	if err != nil {
		return nil, err
	}
	return &DocumentStore{db: db, versioning: versioning, isReady: true}, nil
}

// Close закрывает хранилище
func (ds *DocumentStore) Close() error {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()
	if !ds.isReady {
		return nil
	}
	ds.isReady = false
	return ds.db.Close()
}

func documentKey(kind, key string) []byte {
	return []byte("doc:" + kind + ":" + key)
}

// Put сохраняет content как документ типа kind текущей версии
func (ds *DocumentStore) Put(kind, key string, content interface{}) error {
	doc, err := ds.versioning.Make(kind, content)
	if err != nil {
		return err
	}
	return ds.PutRaw(kind, key, doc)
}

// PutRaw сохраняет готовый документ как есть
func (ds *DocumentStore) PutRaw(kind, key string, doc VersionedJSON) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ошибка сериализации документа %s/%s: %w", kind, key, err)
	}
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()
	if !ds.isReady {
		return ErrNotReady
	}
	if err := ds.db.Update(func(txn *badger.Txn) error {
		return txn.Set(documentKey(kind, key), data)
	}); err != nil {
		return fmt.Errorf("ошибка сохранения документа %s/%s: %w", kind, key, err)
	}
	return nil
}

// GetRaw документ в сохранённой версии; false если его нет
func (ds *DocumentStore) GetRaw(kind, key string) (VersionedJSON, bool, error) {
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()
	if !ds.isReady {
		return VersionedJSON{}, false, ErrNotReady
	}
	var data []byte
	err := ds.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(kind, key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return VersionedJSON{}, false, nil
	}
	if err != nil {
		return VersionedJSON{}, false, fmt.Errorf("ошибка чтения документа %s/%s: %w", kind, key, err)
	}
	var doc VersionedJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return VersionedJSON{}, false, fmt.Errorf("ошибка десериализации документа %s/%s: %w", kind, key, err)
	}
	return doc, true, nil
}

// Get читает документ, приводит к текущей версии и разбирает в out.
// Документ, который не удалось мигрировать, остаётся в базе нетронутым.
func (ds *DocumentStore) Get(kind, key string, out interface{}) (bool, error) {
	doc, found, err := ds.GetRaw(kind, key)
	if err != nil || !found {
		return found, err
	}
	if doc.Identifier != kind {
		return false, fmt.Errorf("документ %s/%s имеет тип %q", kind, key, doc.Identifier)
	}
	if err := ds.versioning.LoadInto(doc, out); err != nil {
		return false, err
	}
	return true, nil
}

// Delete удаляет документ
func (ds *DocumentStore) Delete(kind, key string) error {
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()
	if !ds.isReady {
		return ErrNotReady
	}
	return ds.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(documentKey(kind, key))
	})
}

// Keys ключи документов типа kind по алфавиту
func (ds *DocumentStore) Keys(kind string) ([]string, error) {
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()
	if !ds.isReady {
		return nil, ErrNotReady
	}
	prefix := documentKey(kind, "")
	var keys []string
	err := ds.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
