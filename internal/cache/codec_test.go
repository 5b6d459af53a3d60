package cache

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestEntryEnvelopeKeepsKeyAndResponse(t *testing.T) {
	resp := &Response{
		URL:    "https://app.example/qr.png",
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"image/png"}},
		Body:   []byte{0x89, 'P', 'N', 'G'},
	}
	raw, err := encodeEntry("https://app.example/qr.png", resp)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	key, decoded, err := decodeEntry(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if key != "https://app.example/qr.png" {
		t.Fatalf("key mismatch: %s", key)
	}
	if decoded.Header.Get("Content-Type") != "image/png" || string(decoded.Body) != string(resp.Body) {
		t.Fatalf("decoded response mismatch: %+v", decoded)
	}
}

func TestDecodeEntryRejectsUnknownVersion(t *testing.T) {
	raw, _ := msgpack.Marshal(&envelope{Version: envelopeVersion + 1, Key: "k"})
	if _, _, err := decodeEntry(raw); err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestDecodeEntryRejectsGarbage(t *testing.T) {
	if _, _, err := decodeEntry([]byte("not msgpack")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDecodeEntryDefaultsHeader(t *testing.T) {
	raw, _ := encodeEntry("k", &Response{Status: 204})
	_, resp, err := decodeEntry(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Header == nil {
		t.Fatalf("expected non-nil header")
	}
}

func TestMarkerRecordsCreationTime(t *testing.T) {
	created := time.Unix(1700000000, 42)
	raw, err := encodeMarker("gen-v1", created)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	m, err := decodeMarker(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if m.Name != "gen-v1" || m.CreatedAt != created.UnixNano() {
		t.Fatalf("unexpected marker %+v", m)
	}
}

func TestEntryDigestIsStable(t *testing.T) {
	a := entryDigest("https://app.example/index.html")
	b := entryDigest("https://app.example/index.html")
	c := entryDigest("https://app.example/index.html?x=1")
	if a != b || a == c || len(a) != 64 {
		t.Fatalf("unexpected digests %s %s %s", a, b, c)
	}
}

func TestResponseOK(t *testing.T) {
	cases := map[int]bool{199: false, 200: true, 204: true, 299: true, 304: false, 404: false, 500: false}
	for status, want := range cases {
		if got := (&Response{Status: status}).OK(); got != want {
			t.Fatalf("status %d: expected %v got %v", status, want, got)
		}
	}
	var nilResp *Response
	if nilResp.OK() {
		t.Fatalf("nil response must not be OK")
	}
}

func TestRegistryListsBuiltinDrivers(t *testing.T) {
	names := DriverNames()
	want := []string{"fs", "leveldb", "memory", "redis", "s3"}
	if len(names) != len(want) {
		t.Fatalf("unexpected drivers %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
	if d, ok := ResolveDriver(" MEMORY "); !ok || d.Persistent {
		t.Fatalf("memory driver should resolve case-insensitively and be volatile")
	}
	if d, ok := ResolveDriver(DefaultDriver()); !ok || !d.Persistent {
		t.Fatalf("default driver should be persistent")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	err := RegisterDriver(Driver{Name: "memory", Open: func(context.Context, Options) (Store, error) { return nil, nil }})
	if err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := RegisterDriver(Driver{Name: "broken"}); err == nil {
		t.Fatalf("expected error for driver without constructor")
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	store, err := Open(context.Background(), Options{Driver: "memory"})
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*memoryStore); !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	store, err = Open(context.Background(), Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("default driver open error: %v", err)
	}
	if _, ok := store.(*fileStore); !ok {
		t.Fatalf("expected fs store by default, got %T", store)
	}

	if _, err := Open(context.Background(), Options{Driver: "tape"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), Options{Driver: "redis"}); err == nil {
		t.Fatalf("expected error for redis without address")
	}
	if _, err := Open(context.Background(), Options{Driver: "s3"}); err == nil {
		t.Fatalf("expected error for s3 without bucket")
	}
}
