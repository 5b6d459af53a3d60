package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type storeFactory func(t *testing.T) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"fs": func(t *testing.T) Store {
			store, err := NewFileStore(t.TempDir())
			if err != nil {
				t.Fatalf("failed to create fs store: %v", err)
			}
			return store
		},
		"leveldb": func(t *testing.T) Store {
			store, err := NewLevelDBStore(filepath.Join(t.TempDir(), "db"))
			if err != nil {
				t.Fatalf("failed to create leveldb store: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		},
		"redis": func(t *testing.T) Store {
			return newRedisTestStore(t, miniredis.RunT(t), "")
		},
		"s3": func(t *testing.T) Store {
			store, _ := newS3TestStore(t)
			return store
		},
	}
}

// forEachStore 对每个驱动运行同一组断言，redis 与 s3 分别由 miniredis 和内存 S3 服务承载。
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	for name, factory := range storeFactories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func sampleResponse(body string) *Response {
	return &Response{
		URL:    "https://app.example/" + body,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}

func TestStorePutAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		region, err := store.Open(ctx, "gen-v1")
		if err != nil {
			t.Fatalf("open error: %v", err)
		}
		if err := region.Put(ctx, "https://app.example/index.html", sampleResponse("index")); err != nil {
			t.Fatalf("put error: %v", err)
		}

		resp, err := region.Get(ctx, "https://app.example/index.html")
		if err != nil {
			t.Fatalf("get error: %v", err)
		}
		if string(resp.Body) != "index" {
			t.Fatalf("cached body mismatch: %s", resp.Body)
		}
		if resp.Status != http.StatusOK {
			t.Fatalf("status mismatch: %d", resp.Status)
		}
		if resp.Header.Get("Content-Type") != "text/plain" {
			t.Fatalf("header mismatch: %v", resp.Header)
		}
	})
}

func TestStorePutOverwrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		region, _ := store.Open(ctx, "gen-v1")
		_ = region.Put(ctx, "k", sampleResponse("old"))
		if err := region.Put(ctx, "k", sampleResponse("new")); err != nil {
			t.Fatalf("put error: %v", err)
		}
		resp, err := region.Get(ctx, "k")
		if err != nil {
			t.Fatalf("get error: %v", err)
		}
		if string(resp.Body) != "new" {
			t.Fatalf("expected overwritten body, got %s", resp.Body)
		}
		keys, _ := region.Entries(ctx)
		if len(keys) != 1 {
			t.Fatalf("expected single entry, got %v", keys)
		}
	})
}

func TestStoreGetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := store.Open(ctx, "gen-v1"); err != nil {
			t.Fatalf("open error: %v", err)
		}
		if _, err := store.Get(ctx, "gen-v1", "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.Get(ctx, "absent", "missing"); !errors.Is(err, ErrRegionNotFound) {
			t.Fatalf("expected ErrRegionNotFound, got %v", err)
		}
	})
}

func TestStoreOpenIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		region, _ := store.Open(ctx, "gen-v1")
		_ = region.Put(ctx, "k", sampleResponse("kept"))

		again, err := store.Open(ctx, "gen-v1")
		if err != nil {
			t.Fatalf("reopen error: %v", err)
		}
		if _, err := again.Get(ctx, "k"); err != nil {
			t.Fatalf("reopen lost entries: %v", err)
		}
		names, _ := store.Names(ctx)
		if len(names) != 1 {
			t.Fatalf("expected one region, got %v", names)
		}
	})
}

func TestStoreNamesInCreationOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		for _, name := range []string{"zeta", "alpha", "mid"} {
			if _, err := store.Open(ctx, name); err != nil {
				t.Fatalf("open %s error: %v", name, err)
			}
			// 持久化驱动以时间戳排序，间隔保证顺序可区分。
			time.Sleep(2 * time.Millisecond)
		}
		names, err := store.Names(ctx)
		if err != nil {
			t.Fatalf("names error: %v", err)
		}
		want := []string{"zeta", "alpha", "mid"}
		if len(names) != len(want) {
			t.Fatalf("unexpected names %v", names)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, names)
			}
		}
	})
}

func TestStoreRemove(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		region, _ := store.Open(ctx, "gen-v0")
		_ = region.Put(ctx, "k", sampleResponse("data"))

		removed, err := store.Remove(ctx, "gen-v0")
		if err != nil {
			t.Fatalf("remove error: %v", err)
		}
		if !removed {
			t.Fatalf("expected region to be reported as removed")
		}
		if _, err := store.Get(ctx, "gen-v0", "k"); !IsMiss(err) {
			t.Fatalf("expected miss after remove, got %v", err)
		}
		if err := store.Put(ctx, "gen-v0", "k", sampleResponse("again")); !errors.Is(err, ErrRegionNotFound) {
			t.Fatalf("expected ErrRegionNotFound on put to removed region, got %v", err)
		}
		names, _ := store.Names(ctx)
		if len(names) != 0 {
			t.Fatalf("expected no regions, got %v", names)
		}

		removed, err = store.Remove(ctx, "gen-v0")
		if err != nil || removed {
			t.Fatalf("second remove should report false without error, got %v %v", removed, err)
		}
	})
}

func TestStoreRejectsInvalidNames(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		for _, name := range []string{"", ".", ".."} {
			if _, err := store.Open(context.Background(), name); !errors.Is(err, ErrInvalidName) {
				t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
			}
		}
	})
}

func TestStoreGetReturnsCopy(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		region, _ := store.Open(ctx, "gen-v1")
		_ = region.Put(ctx, "k", sampleResponse("immutable"))

		first, _ := region.Get(ctx, "k")
		first.Body[0] = 'X'
		first.Header.Set("Content-Type", "mutated")

		second, _ := region.Get(ctx, "k")
		if string(second.Body) != "immutable" || second.Header.Get("Content-Type") != "text/plain" {
			t.Fatalf("cached snapshot was mutated: %+v", second)
		}
	})
}

func TestMatchSearchesRegionsInOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		old, _ := store.Open(ctx, "gen-v0")
		time.Sleep(2 * time.Millisecond)
		cur, _ := store.Open(ctx, "gen-v1")

		_ = old.Put(ctx, "shared", sampleResponse("from-old"))
		_ = cur.Put(ctx, "shared", sampleResponse("from-new"))
		_ = cur.Put(ctx, "only-new", sampleResponse("new"))

		resp, name, err := Match(ctx, store, "shared")
		if err != nil {
			t.Fatalf("match error: %v", err)
		}
		if name != "gen-v0" || string(resp.Body) != "from-old" {
			t.Fatalf("expected first-created region to win, got %s %s", name, resp.Body)
		}

		resp, name, err = Match(ctx, store, "only-new")
		if err != nil || name != "gen-v1" || string(resp.Body) != "new" {
			t.Fatalf("unexpected match result %v %s %v", resp, name, err)
		}

		if _, _, err := Match(ctx, store, "nowhere"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMatchNoRegions(t *testing.T) {
	_, _, err := Match(context.Background(), NewMemoryStore(), "k")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// removingStore 在 Names 返回之后立刻删除指定分区，模拟查找期间的并发清理。
type removingStore struct {
	Store
	victim string
	once   sync.Once
}

func (s *removingStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.Store.Names(ctx)
	s.once.Do(func() { _, _ = s.Store.Remove(ctx, s.victim) })
	return names, err
}

func TestMatchTreatsConcurrentRemovalAsMiss(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	old, _ := base.Open(ctx, "gen-v0")
	cur, _ := base.Open(ctx, "gen-v1")
	_ = old.Put(ctx, "k", sampleResponse("old"))
	_ = cur.Put(ctx, "k", sampleResponse("new"))

	store := &removingStore{Store: base, victim: "gen-v0"}
	resp, name, err := Match(ctx, store, "k")
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if name != "gen-v1" || string(resp.Body) != "new" {
		t.Fatalf("expected fallthrough to surviving region, got %s %s", name, resp.Body)
	}
}

func TestRegionPutRejectsNil(t *testing.T) {
	store := NewMemoryStore()
	region, _ := store.Open(context.Background(), "gen-v1")
	if err := region.Put(context.Background(), "k", nil); err == nil {
		t.Fatalf("expected error for nil response")
	}
}

func TestRegionPutDropsSessionHeaders(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		region, _ := store.Open(ctx, "gen-v1")
		resp := sampleResponse("index")
		resp.Header.Add("Set-Cookie", "session=provisioner")
		resp.Header.Add("Set-Cookie2", "legacy=1")
		if err := region.Put(ctx, "k", resp); err != nil {
			t.Fatalf("put error: %v", err)
		}
		if resp.Header.Get("Set-Cookie") == "" {
			t.Fatalf("caller's response must not be modified")
		}

		cached, err := region.Get(ctx, "k")
		if err != nil {
			t.Fatalf("get error: %v", err)
		}
		if cached.Header.Get("Set-Cookie") != "" || cached.Header.Get("Set-Cookie2") != "" {
			t.Fatalf("session headers must not be cached: %v", cached.Header)
		}
		if cached.Header.Get("Content-Type") != "text/plain" {
			t.Fatalf("other headers should be kept: %v", cached.Header)
		}
	})
}

func TestFileStoreIgnoresStrayDirectories(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(base)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(base, ".reap-123", "region"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if _, err := store.Open(context.Background(), "gen-v1"); err != nil {
		t.Fatalf("open error: %v", err)
	}
	names, err := store.Names(context.Background())
	if err != nil {
		t.Fatalf("names error: %v", err)
	}
	if len(names) != 1 || names[0] != "gen-v1" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestFileStoreEscapesRegionNames(t *testing.T) {
	base := t.TempDir()
	store, _ := NewFileStore(base)
	ctx := context.Background()
	region, err := store.Open(ctx, "team/app v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := region.Put(ctx, "k", sampleResponse("x")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	entries, _ := os.ReadDir(base)
	if len(entries) != 1 || entries[0].Name() != "team%2Fapp%20v1" {
		t.Fatalf("unexpected layout %v", entries)
	}
	names, _ := store.Names(ctx)
	if len(names) != 1 || names[0] != "team/app v1" {
		t.Fatalf("marker should keep original name, got %v", names)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()
	store, _ := NewFileStore(base)
	region, _ := store.Open(ctx, "gen-v1")
	_ = region.Put(ctx, "k", sampleResponse("persisted"))

	reopened, err := NewFileStore(base)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	resp, name, err := Match(ctx, reopened, "k")
	if err != nil || name != "gen-v1" || string(resp.Body) != "persisted" {
		t.Fatalf("unexpected result after reopen: %v %s %v", resp, name, err)
	}
}

func TestLevelDBRejectsNulNames(t *testing.T) {
	store, err := NewLevelDBStore(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer store.Close()
	if _, err := store.Open(context.Background(), "bad\x00name"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryStore().Open(ctx, "gen-v1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
