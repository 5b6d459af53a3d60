package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Options 汇总所有驱动可能用到的参数，各驱动只读取自己关心的字段。
type Options struct {
	Driver string
	Path   string
	Redis  RedisOptions
	S3     S3Options
}

// RedisOptions 描述 redis 驱动的连接参数。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// S3Options 描述 s3 驱动的连接参数。
type S3Options struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Prefix       string
	UsePathStyle bool
}

// Driver 记录一个存储驱动的元数据与构造函数，供配置校验和诊断端使用。
type Driver struct {
	Name        string
	Description string
	Persistent  bool
	Open        func(ctx context.Context, opts Options) (Store, error)
}

const defaultDriver = "fs"

var drivers = newDriverRegistry()

type driverRegistry struct {
	mu      sync.RWMutex
	entries map[string]Driver
}

func newDriverRegistry() *driverRegistry {
	return &driverRegistry{entries: make(map[string]Driver)}
}

// DefaultDriver 返回未配置时使用的驱动名。
func DefaultDriver() string {
	return defaultDriver
}

// RegisterDriver 将驱动加入全局注册表，重复名称会返回错误。
func RegisterDriver(d Driver) error {
	return drivers.register(d)
}

// MustRegisterDriver 在注册失败时 panic，适合在 init() 中调用。
func MustRegisterDriver(d Driver) {
	if err := RegisterDriver(d); err != nil {
		panic(err)
	}
}

// ResolveDriver 返回指定名称的驱动。
func ResolveDriver(name string) (Driver, bool) {
	return drivers.resolve(name)
}

// Drivers 返回按名称排序的驱动列表。
func Drivers() []Driver {
	return drivers.list()
}

// DriverNames 返回所有已注册驱动的名称。
func DriverNames() []string {
	items := Drivers()
	result := make([]string, len(items))
	for i, d := range items {
		result[i] = d.Name
	}
	return result
}

// Open 根据 opts.Driver 选择驱动并构建 Store，整个进程复用一份实例。
func Open(ctx context.Context, opts Options) (Store, error) {
	name := opts.Driver
	if strings.TrimSpace(name) == "" {
		name = defaultDriver
	}
	d, ok := ResolveDriver(name)
	if !ok {
		return nil, fmt.Errorf("cache driver %q is not registered", name)
	}
	store, err := d.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.Name, err)
	}
	return store, nil
}

func normalizeDriverName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *driverRegistry) register(d Driver) error {
	key := normalizeDriverName(d.Name)
	if key == "" {
		return fmt.Errorf("driver name is required")
	}
	if d.Open == nil {
		return fmt.Errorf("driver %s has no constructor", key)
	}
	d.Name = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("driver %s already registered", key)
	}
	r.entries[key] = d
	return nil
}

func (r *driverRegistry) resolve(name string) (Driver, bool) {
	key := normalizeDriverName(name)
	if key == "" {
		return Driver{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.entries[key]
	return d, ok
}

func (r *driverRegistry) list() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Driver, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.entries[key])
	}
	return result
}
