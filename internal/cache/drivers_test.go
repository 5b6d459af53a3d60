package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisTestStore(t *testing.T, mr *miniredis.Miniredis, prefix string) Store {
	t.Helper()
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), prefix)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newRedisTestStore(t, mr, "")
	ctx := context.Background()

	region, err := store.Open(ctx, "gen-v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := region.Put(ctx, "https://app.example/qr.png", sampleResponse("qr")); err != nil {
		t.Fatalf("put error: %v", err)
	}

	members, err := mr.ZMembers(defaultRedisPrefix + "regions")
	if err != nil || len(members) != 1 || members[0] != "gen-v1" {
		t.Fatalf("unexpected region index %v %v", members, err)
	}
	fields, err := mr.HKeys(defaultRedisPrefix + "region:gen-v1")
	if err != nil || len(fields) != 1 || fields[0] != "https://app.example/qr.png" {
		t.Fatalf("unexpected region hash %v %v", fields, err)
	}

	if _, err := store.Remove(ctx, "gen-v1"); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if mr.Exists(defaultRedisPrefix + "region:gen-v1") {
		t.Fatalf("region hash should be deleted with the index entry")
	}
}

func TestRedisStorePutAfterRemoveLeavesNoOrphans(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newRedisTestStore(t, mr, "")
	ctx := context.Background()

	region, _ := store.Open(ctx, "gen-v0")
	if _, err := store.Remove(ctx, "gen-v0"); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if err := region.Put(ctx, "k", sampleResponse("late")); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("expected ErrRegionNotFound, got %v", err)
	}
	if mr.Exists(defaultRedisPrefix + "region:gen-v0") {
		t.Fatalf("late write must not recreate the region hash")
	}
}

func TestRedisStorePrefixesAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisTestStore(t, mr, "site-a:")
	b := newRedisTestStore(t, mr, "site-b:")
	ctx := context.Background()

	if _, err := a.Open(ctx, "gen-v1"); err != nil {
		t.Fatalf("open error: %v", err)
	}
	names, err := b.Names(ctx)
	if err != nil || len(names) != 0 {
		t.Fatalf("prefix b should not see prefix a regions: %v %v", names, err)
	}
}

func TestRedisDriverOpensThroughRegistry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis error: %v", err)
	}
	addr := mr.Addr()
	store, err := Open(context.Background(), Options{Driver: "redis", Redis: RedisOptions{Addr: addr}})
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*redisStore); !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	mr.Close()
	if _, err := Open(context.Background(), Options{Driver: "redis", Redis: RedisOptions{Addr: addr}}); err == nil {
		t.Fatalf("expected ping failure once the server is gone")
	}
}

func TestS3StoreRemoveBatchesDeletes(t *testing.T) {
	store, stub := newS3TestStore(t)
	ctx := context.Background()
	if _, err := store.Open(ctx, "gen-v0"); err != nil {
		t.Fatalf("open error: %v", err)
	}
	s3s := store.(*s3Store)
	total := deleteBatchSize + 500
	for i := 0; i < total; i++ {
		stub.seed(s3s.entryObject("gen-v0", fmt.Sprintf("k-%04d", i)), []byte("x"))
	}

	removed, err := store.Remove(ctx, "gen-v0")
	if err != nil || !removed {
		t.Fatalf("remove should succeed, got %v %v", removed, err)
	}
	if n := stub.count(s3s.regionPrefix("gen-v0")); n != 0 {
		t.Fatalf("expected every object to be deleted, %d left", n)
	}
	batches := stub.batches()
	if len(batches) != 2 || batches[0] != deleteBatchSize || batches[1] != 500 {
		t.Fatalf("unexpected delete batches %v", batches)
	}
}

func TestS3StoreRemoveReclaimsOrphans(t *testing.T) {
	store, stub := newS3TestStore(t)
	ctx := context.Background()
	s3s := store.(*s3Store)

	// 没有标记的孤儿条目：上次删除失败或与 Remove 并发的写入留下。
	stub.seed(s3s.entryObject("gen-v0", "k"), []byte("orphan"))

	removed, err := store.Remove(ctx, "gen-v0")
	if err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if removed {
		t.Fatalf("region without marker should not be reported as removed")
	}
	if n := stub.count(s3s.regionPrefix("gen-v0")); n != 0 {
		t.Fatalf("orphans should be reclaimed, %d left", n)
	}
}

func TestS3StoreOpenDoesNotResurrectOrphans(t *testing.T) {
	store, stub := newS3TestStore(t)
	ctx := context.Background()
	s3s := store.(*s3Store)

	payload, err := encodeEntry("k", sampleResponse("stale"))
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	stub.seed(s3s.entryObject("gen-v1", "k"), payload)

	region, err := store.Open(ctx, "gen-v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if _, err := region.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("new region must start empty, got %v", err)
	}
}

func TestS3StoreMapsMissingObjects(t *testing.T) {
	store, _ := newS3TestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "gen-v9", "k"); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("expected ErrRegionNotFound, got %v", err)
	}
	if _, err := store.Entries(ctx, "gen-v9"); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("expected ErrRegionNotFound, got %v", err)
	}
	region, _ := store.Open(ctx, "gen-v1")
	if _, err := region.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
