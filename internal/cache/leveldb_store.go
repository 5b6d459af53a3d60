package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

func init() {
	MustRegisterDriver(Driver{
		Name:        "leveldb",
		Description: "single leveldb database under Storage.Path",
		Persistent:  true,
		Open: func(_ context.Context, opts Options) (Store, error) {
			if opts.Path == "" {
				return nil, errors.New("storage path required")
			}
			return NewLevelDBStore(filepath.Join(opts.Path, "leveldb"))
		},
	})
}

// levelDBStore 的 key 布局：
//
//	r:<region>            -> regionMarker
//	e:<region>\x00<key>   -> envelope
type levelDBStore struct {
	db  *leveldb.DB
	now func() time.Time

	// mu 串行化分区存在性检查与写入，避免 Remove 之后残留孤儿条目。
	mu sync.Mutex
}

// NewLevelDBStore 打开（或创建）path 下的 leveldb 数据库。
func NewLevelDBStore(path string) (Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &levelDBStore{db: db, now: time.Now}, nil
}

func markerKey(name string) []byte {
	return []byte("r:" + name)
}

func entryPrefix(region string) []byte {
	return []byte("e:" + region + "\x00")
}

func entryKey(region, key string) []byte {
	return append(entryPrefix(region), key...)
}

func validateLevelDBName(name string) error {
	if err := validateRegionName(name); err != nil {
		return err
	}
	if strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}
	return nil
}

func (s *levelDBStore) Open(ctx context.Context, name string) (*Region, error) {
	if err := validateLevelDBName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(markerKey(name), nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		marker, err := encodeMarker(name, s.now())
		if err != nil {
			return nil, err
		}
		if err := s.db.Put(markerKey(name), marker, nil); err != nil {
			return nil, err
		}
	}
	return NewRegion(s, name), nil
}

func (s *levelDBStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it := s.db.NewIterator(util.BytesPrefix([]byte("r:")), nil)
	defer it.Release()

	var markers []regionMarker
	for it.Next() {
		m, err := decodeMarker(it.Value())
		if err != nil {
			continue
		}
		if m.Name == "" {
			m.Name = string(bytes.TrimPrefix(it.Key(), []byte("r:")))
		}
		markers = append(markers, m)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return sortMarkers(markers), nil
}

func (s *levelDBStore) Remove(ctx context.Context, name string) (bool, error) {
	if err := validateLevelDBName(name); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(markerKey(name), nil)
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(markerKey(name))
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("remove region %s: %w", name, err)
	}
	return true, nil
}

func (s *levelDBStore) Get(ctx context.Context, region, key string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := s.db.Get(entryKey(region, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			if ok, _ := s.db.Has(markerKey(region), nil); !ok {
				return nil, ErrRegionNotFound
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	_, resp, err := decodeEntry(raw)
	return resp, err
}

func (s *levelDBStore) Put(ctx context.Context, region, key string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeEntry(key, resp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(markerKey(region), nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRegionNotFound
	}
	return s.db.Put(entryKey(region, key), payload, nil)
}

func (s *levelDBStore) Entries(ctx context.Context, region string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok, err := s.db.Has(markerKey(region), nil); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrRegionNotFound
	}

	prefix := entryPrefix(region)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}
