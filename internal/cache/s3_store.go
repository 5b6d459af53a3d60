package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// deleteBatchSize 是 DeleteObjects 单次请求允许的最大对象数。
const deleteBatchSize = 1000

func init() {
	MustRegisterDriver(Driver{
		Name:        "s3",
		Description: "regions as key prefixes in an S3-compatible bucket",
		Persistent:  true,
		Open: func(ctx context.Context, opts Options) (Store, error) {
			o := opts.S3
			if o.Bucket == "" {
				return nil, errors.New("s3 bucket required")
			}
			loadOpts := []func(*awsconfig.LoadOptions) error{
				awsconfig.WithRegion(o.Region),
			}
			if o.AccessKey != "" {
				loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
					credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, ""),
				))
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
			if err != nil {
				return nil, fmt.Errorf("load aws config: %w", err)
			}
			client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
				so.UsePathStyle = o.UsePathStyle
				if o.Endpoint != "" {
					so.BaseEndpoint = aws.String(o.Endpoint)
				}
			})
			return NewS3Store(client, o.Bucket, o.Prefix), nil
		},
	})
}

// s3Store 的对象布局：
//
//	<prefix>regions/<region>/.region      分区标记
//	<prefix>regions/<region>/e/<key>      条目（key 经过 QueryEscape）
type s3Store struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
	now      func() time.Time
}

// NewS3Store 基于已有 s3.Client 构建 Store。
func NewS3Store(client *s3.Client, bucket, prefix string) Store {
	return &s3Store{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
		now:      time.Now,
	}
}

func (s *s3Store) rootPrefix() string {
	return s.prefix + "regions/"
}

func (s *s3Store) regionPrefix(name string) string {
	return s.rootPrefix() + url.PathEscape(name) + "/"
}

func (s *s3Store) markerObject(name string) string {
	return s.regionPrefix(name) + markerFile
}

func (s *s3Store) entryObject(region, key string) string {
	return s.regionPrefix(region) + "e/" + url.QueryEscape(key)
}

func (s *s3Store) Open(ctx context.Context, name string) (*Region, error) {
	if err := validateRegionName(name); err != nil {
		return nil, err
	}
	exists, err := s.hasRegion(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return NewRegion(s, name), nil
	}
	// 同名旧分区残留的条目不能在新分区中重新出现。
	if err := s.purge(ctx, name); err != nil {
		return nil, err
	}
	marker, err := encodeMarker(name, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.putObject(ctx, s.markerObject(name), marker); err != nil {
		return nil, err
	}
	return NewRegion(s, name), nil
}

func (s *s3Store) Names(ctx context.Context) ([]string, error) {
	var markers []regionMarker
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.rootPrefix()),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			raw, err := s.getObject(ctx, aws.ToString(cp.Prefix)+markerFile)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			m, err := decodeMarker(raw)
			if err != nil || m.Name == "" {
				continue
			}
			markers = append(markers, m)
		}
	}
	return sortMarkers(markers), nil
}

func (s *s3Store) Remove(ctx context.Context, name string) (bool, error) {
	if err := validateRegionName(name); err != nil {
		return false, err
	}
	exists, err := s.hasRegion(ctx, name)
	if err != nil {
		return false, err
	}

	// 先删除标记，之后的 Get/Put 立即视为分区不存在，再批量清理条目。
	if exists {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.markerObject(name)),
		}); err != nil {
			return false, err
		}
	}
	// 标记不存在时也清理前缀，回收上次删除失败或并发写入留下的孤儿条目。
	if err := s.purge(ctx, name); err != nil {
		return exists, err
	}
	return exists, nil
}

// purge 批量删除分区前缀下的全部对象。
func (s *s3Store) purge(ctx context.Context, name string) error {
	keys, err := s.listKeys(ctx, s.regionPrefix(name))
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete region objects: %w", err)
		}
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, region, key string) (*Response, error) {
	raw, err := s.getObject(ctx, s.entryObject(region, key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if ok, herr := s.hasRegion(ctx, region); herr == nil && !ok {
				return nil, ErrRegionNotFound
			}
		}
		return nil, err
	}
	_, resp, err := decodeEntry(raw)
	return resp, err
}

func (s *s3Store) Put(ctx context.Context, region, key string, resp *Response) error {
	exists, err := s.hasRegion(ctx, region)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRegionNotFound
	}
	payload, err := encodeEntry(key, resp)
	if err != nil {
		return err
	}
	return s.putObject(ctx, s.entryObject(region, key), payload)
}

func (s *s3Store) Entries(ctx context.Context, region string) ([]string, error) {
	exists, err := s.hasRegion(ctx, region)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRegionNotFound
	}
	prefix := s.regionPrefix(region) + "e/"
	objects, err := s.listKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		k, err := url.QueryUnescape(strings.TrimPrefix(obj, prefix))
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *s3Store) Close() error {
	return nil
}

func (s *s3Store) hasRegion(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.markerObject(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *s3Store) putObject(ctx context.Context, key string, body []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/msgpack"),
	})
	return err
}

func (s *s3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
