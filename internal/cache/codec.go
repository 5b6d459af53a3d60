package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// envelopeVersion 标记序列化格式版本，格式变化时递增。
const envelopeVersion = 1

// envelope 是持久化驱动共用的条目格式：键 + 响应快照。
type envelope struct {
	Version int                 `msgpack:"v"`
	Key     string              `msgpack:"k"`
	URL     string              `msgpack:"u"`
	Status  int                 `msgpack:"s"`
	Header  map[string][]string `msgpack:"h"`
	Body    []byte              `msgpack:"b"`
}

// regionMarker 记录分区的创建时间，用于恢复创建顺序。
type regionMarker struct {
	Name      string `msgpack:"n"`
	CreatedAt int64  `msgpack:"c"`
}

func encodeEntry(key string, resp *Response) ([]byte, error) {
	env := envelope{
		Version: envelopeVersion,
		Key:     key,
		URL:     resp.URL,
		Status:  resp.Status,
		Header:  resp.Header,
		Body:    resp.Body,
	}
	b, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return b, nil
}

func decodeEntry(b []byte) (string, *Response, error) {
	var env envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return "", nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if env.Version != envelopeVersion {
		return "", nil, fmt.Errorf("decode cache entry: unsupported version %d", env.Version)
	}
	header := http.Header(env.Header)
	if header == nil {
		header = http.Header{}
	}
	return env.Key, &Response{
		URL:    env.URL,
		Status: env.Status,
		Header: header,
		Body:   env.Body,
	}, nil
}

func encodeMarker(name string, created time.Time) ([]byte, error) {
	return msgpack.Marshal(&regionMarker{Name: name, CreatedAt: created.UnixNano()})
}

func decodeMarker(b []byte) (regionMarker, error) {
	var m regionMarker
	err := msgpack.Unmarshal(b, &m)
	return m, err
}

// entryDigest 将任意长度的请求标识映射为定长文件/对象名。
func entryDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
