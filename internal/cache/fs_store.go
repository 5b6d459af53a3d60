package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	markerFile  = ".region"
	entrySuffix = ".entry"
)

func init() {
	MustRegisterDriver(Driver{
		Name:        "fs",
		Description: "one directory per region under Storage.Path",
		Persistent:  true,
		Open: func(_ context.Context, opts Options) (Store, error) {
			return NewFileStore(opts.Path)
		},
	})
}

// NewFileStore 以 basePath 为根目录构建磁盘缓存，磁盘布局：
//
//	<basePath>/<region>/.region          # 分区标记，记录创建时间
//	<basePath>/<region>/<sha256>.entry   # msgpack 编码的条目
func NewFileStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore 通过 entryLock 避免同一分区/条目并发写入。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Open(ctx context.Context, name string) (*Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.regionPath(name)
	if err != nil {
		return nil, err
	}

	unlock := s.lock("region::" + name)
	defer unlock()

	if _, err := os.Stat(filepath.Join(dir, markerFile)); err == nil {
		return NewRegion(s, name), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	marker, err := encodeMarker(name, s.now())
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(ctx, dir, markerFile, marker); err != nil {
		return nil, err
	}
	return NewRegion(s, name), nil
}

func (s *fileStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	markers := make([]regionMarker, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.basePath, d.Name(), markerFile))
		if err != nil {
			// 没有标记文件的目录不是分区（例如正在删除的临时目录）。
			continue
		}
		m, err := decodeMarker(raw)
		if err != nil || m.Name == "" {
			continue
		}
		markers = append(markers, m)
	}
	return sortMarkers(markers), nil
}

func (s *fileStore) Remove(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.regionPath(name)
	if err != nil {
		return false, err
	}

	unlock := s.lock("region::" + name)
	defer unlock()

	if _, err := os.Stat(filepath.Join(dir, markerFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	// 先整体 rename 到临时目录，读者要么看到完整分区，要么完全看不到。
	trash, err := os.MkdirTemp(s.basePath, ".reap-*")
	if err != nil {
		return false, err
	}
	if err := os.Rename(dir, filepath.Join(trash, "region")); err != nil {
		os.Remove(trash)
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, fmt.Errorf("cleanup reaped region: %w", err)
	}
	return true, nil
}

func (s *fileStore) Get(ctx context.Context, region, key string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.regionPath(region)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(dir, entryDigest(key)+entrySuffix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, s.missReason(dir)
		}
		return nil, err
	}
	_, resp, err := decodeEntry(raw)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *fileStore) Put(ctx context.Context, region, key string, resp *Response) error {
	dir, err := s.regionPath(region)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, markerFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrRegionNotFound
		}
		return err
	}

	name := entryDigest(key) + entrySuffix
	unlock := s.lock(region + "::" + name)
	defer unlock()

	payload, err := encodeEntry(key, resp)
	if err != nil {
		return err
	}
	if err := writeAtomic(ctx, dir, name, payload); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrRegionNotFound
		}
		return err
	}
	return nil
}

func (s *fileStore) Entries(ctx context.Context, region string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.regionPath(region)
	if err != nil {
		return nil, err
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrRegionNotFound
		}
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), entrySuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue
		}
		key, _, err := decodeEntry(raw)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) missReason(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, markerFile)); err != nil {
		return ErrRegionNotFound
	}
	return ErrNotFound
}

func (s *fileStore) lock(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) regionPath(name string) (string, error) {
	if err := validateRegionName(name); err != nil {
		return "", err
	}
	escaped := url.PathEscape(name)
	if escaped == "." || escaped == ".." || strings.ContainsAny(escaped, `/\`) {
		return "", ErrInvalidName
	}
	dir := filepath.Join(s.basePath, escaped)
	if filepath.Dir(dir) != s.basePath {
		return "", errors.New("invalid cache path")
	}
	return dir, nil
}

// writeAtomic 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func writeAtomic(ctx context.Context, dir, name string, payload []byte) error {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(payload))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filepath.Join(dir, name)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

// sortMarkers 按创建时间（同刻按名称）排序并返回分区名。
func sortMarkers(markers []regionMarker) []string {
	sort.Slice(markers, func(i, j int) bool {
		if markers[i].CreatedAt == markers[j].CreatedAt {
			return markers[i].Name < markers[j].Name
		}
		return markers[i].CreatedAt < markers[j].CreatedAt
	})
	names := make([]string, len(markers))
	for i, m := range markers {
		names[i] = m.Name
	}
	return names
}
