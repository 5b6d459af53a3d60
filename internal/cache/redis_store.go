package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "offline-agent:"

func init() {
	MustRegisterDriver(Driver{
		Name:        "redis",
		Description: "regions as redis hashes indexed by a sorted set",
		Persistent:  true,
		Open: func(ctx context.Context, opts Options) (Store, error) {
			if opts.Redis.Addr == "" {
				return nil, errors.New("redis address required")
			}
			client := redis.NewClient(&redis.Options{
				Addr:     opts.Redis.Addr,
				Password: opts.Redis.Password,
				DB:       opts.Redis.DB,
			})
			if err := client.Ping(ctx).Err(); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("redis ping: %w", err)
			}
			return NewRedisStore(client, opts.Redis.Prefix), nil
		},
	})
}

// putIfRegion 只在分区仍登记于有序集合时写入条目，保证 Remove 后不会残留孤儿条目。
var putIfRegion = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
	redis.call("HSET", KEYS[2], ARGV[2], ARGV[3])
	return 1
end
return 0
`)

// redisStore 的 key 布局：
//
//	<prefix>regions           ZSET  member=分区名 score=创建时间(微秒)
//	<prefix>region:<name>     HASH  field=请求标识 value=envelope
type redisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore 基于已建立的 redis 连接构建 Store，prefix 为空时使用默认前缀。
func NewRedisStore(client *redis.Client, prefix string) Store {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *redisStore) indexKey() string {
	return s.prefix + "regions"
}

func (s *redisStore) regionKey(name string) string {
	return s.prefix + "region:" + name
}

func (s *redisStore) Open(ctx context.Context, name string) (*Region, error) {
	if err := validateRegionName(name); err != nil {
		return nil, err
	}
	err := s.client.ZAddNX(ctx, s.indexKey(), redis.Z{
		Score:  float64(s.now().UnixMicro()),
		Member: name,
	}).Err()
	if err != nil {
		return nil, err
	}
	return NewRegion(s, name), nil
}

func (s *redisStore) Names(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
}

func (s *redisStore) Remove(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.indexKey(), name)
		pipe.Del(ctx, s.regionKey(name))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (s *redisStore) Get(ctx context.Context, region, key string) (*Response, error) {
	raw, err := s.client.HGet(ctx, s.regionKey(region), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, s.missReason(ctx, region)
		}
		return nil, err
	}
	_, resp, err := decodeEntry(raw)
	return resp, err
}

func (s *redisStore) Put(ctx context.Context, region, key string, resp *Response) error {
	payload, err := encodeEntry(key, resp)
	if err != nil {
		return err
	}
	stored, err := putIfRegion.Run(ctx, s.client,
		[]string{s.indexKey(), s.regionKey(region)},
		region, key, payload,
	).Int()
	if err != nil {
		return err
	}
	if stored == 0 {
		return ErrRegionNotFound
	}
	return nil
}

func (s *redisStore) Entries(ctx context.Context, region string) ([]string, error) {
	if err := s.ensureRegion(ctx, region); err != nil {
		return nil, err
	}
	keys, err := s.client.HKeys(ctx, s.regionKey(region)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) ensureRegion(ctx context.Context, region string) error {
	err := s.client.ZScore(ctx, s.indexKey(), region).Err()
	if errors.Is(err, redis.Nil) {
		return ErrRegionNotFound
	}
	return err
}

func (s *redisStore) missReason(ctx context.Context, region string) error {
	if err := s.ensureRegion(ctx, region); err != nil {
		return err
	}
	return ErrNotFound
}
