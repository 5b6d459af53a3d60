package cache

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const s3StubBucket = "offline-agent-test"

// s3Stub 以内存 map 模拟 path-style S3 的对象接口，覆盖驱动用到的
// Head/Get/Put/Delete、ListObjectsV2 与 DeleteObjects。
type s3Stub struct {
	mu            sync.Mutex
	objects       map[string][]byte
	deleteBatches []int
}

type s3ListResult struct {
	XMLName        xml.Name         `xml:"ListBucketResult"`
	Name           string           `xml:"Name"`
	Prefix         string           `xml:"Prefix"`
	KeyCount       int              `xml:"KeyCount"`
	MaxKeys        int              `xml:"MaxKeys"`
	IsTruncated    bool             `xml:"IsTruncated"`
	Contents       []s3ListObject   `xml:"Contents"`
	CommonPrefixes []s3CommonPrefix `xml:"CommonPrefixes"`
}

type s3ListObject struct {
	Key  string `xml:"Key"`
	Size int    `xml:"Size"`
}

type s3CommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type s3DeleteRequest struct {
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

type s3Error struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// newS3TestStore 启动 S3 模拟服务并返回指向它的 Store。
func newS3TestStore(t *testing.T) (Store, *s3Stub) {
	t.Helper()
	stub := &s3Stub{objects: make(map[string][]byte)}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	client := s3.NewFromConfig(aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("test", "test", ""),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(srv.URL)
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	store := NewS3Store(client, s3StubBucket, "agent/")
	t.Cleanup(func() { store.Close() })
	return store, stub
}

func (s *s3Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != s3StubBucket {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case key == "" && r.Method == http.MethodGet:
		s.list(w, r)
	case key == "" && r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		s.deleteBatch(w, r)
	case r.Method == http.MethodHead:
		if _, ok := s.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		body, ok := s.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		_, _ = w.Write(body)
	case r.Method == http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		s.objects[key] = body
		w.Header().Set("ETag", `"stub"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		delete(s.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (s *s3Stub) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	delimiter := r.URL.Query().Get("delimiter")

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	result := s3ListResult{Name: s3StubBucket, Prefix: prefix, MaxKeys: 1000}
	seen := make(map[string]bool)
	for _, k := range keys {
		if delimiter != "" {
			if idx := strings.Index(k[len(prefix):], delimiter); idx >= 0 {
				cp := k[:len(prefix)+idx+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					result.CommonPrefixes = append(result.CommonPrefixes, s3CommonPrefix{Prefix: cp})
				}
				continue
			}
		}
		result.Contents = append(result.Contents, s3ListObject{Key: k, Size: len(s.objects[k])})
	}
	result.KeyCount = len(result.Contents) + len(result.CommonPrefixes)
	writeS3XML(w, http.StatusOK, result)
}

func (s *s3Stub) deleteBatch(w http.ResponseWriter, r *http.Request) {
	var req s3DeleteRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		writeS3Error(w, http.StatusBadRequest, "MalformedXML")
		return
	}
	if len(req.Objects) > deleteBatchSize {
		writeS3Error(w, http.StatusBadRequest, "MalformedXML")
		return
	}
	for _, obj := range req.Objects {
		delete(s.objects, obj.Key)
	}
	s.deleteBatches = append(s.deleteBatches, len(req.Objects))
	writeS3XML(w, http.StatusOK, struct {
		XMLName xml.Name `xml:"DeleteResult"`
	}{})
}

// seed 直接写入原始对象，用于构造孤儿条目等异常布局。
func (s *s3Stub) seed(key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = body
}

func (s *s3Stub) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

func (s *s3Stub) batches() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.deleteBatches...)
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	writeS3XML(w, status, s3Error{Code: code, Message: code})
}

func writeS3XML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(v)
}
