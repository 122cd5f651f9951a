package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// minPartSize is the S3 multipart minimum.
const minPartSize int64 = 5 * 1024 * 1024

// Store is the domain.BlobStore on one bucket. Callers pass logical paths;
// the client prefix is applied here and stripped again from listings.
type Store struct {
	c *Client
}

// NewStore returns a Store on c's bucket.
func NewStore(c *Client) *Store {
	return &Store{c: c}
}

func (s *Store) object(p string) (string, *string) {
	key := s.c.Key(p)
	return key, aws.String(key)
}

// Get opens the object body. Missing objects report domain.ErrNotFound. The
// caller closes the body.
func (s *Store) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	key, k := s.object(p)
	out, err := s.c.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.c.bucket), Key: k})
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	return out.Body, nil
}

// Exists issues HeadObject. A missing object is not an error.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	key, k := s.object(p)
	_, err := s.c.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.c.bucket), Key: k})
	switch {
	case isNotFound(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
	return true, nil
}

// List walks every page under prefix. Returned paths are logical.
func (s *Store) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	full := s.c.Key(prefix)
	root := strings.TrimSuffix(full, strings.TrimLeft(prefix, "/"))
	pages := s3.NewListObjectsV2Paginator(s.c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.c.bucket),
		Prefix: aws.String(full),
	})

	var out []domain.BlobInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", full, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), root)
			out = append(out, domain.BlobInfo{
				Path:         name,
				Size:         aws.ToInt64(obj.Size),
				ContentType:  contentTypeOf(name),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// Put uploads data with a single PutObject.
func (s *Store) Put(ctx context.Context, p string, data io.Reader, contentType string) error {
	key, k := s.object(p)
	if _, err := s.c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.c.bucket),
		Key:         k,
		Body:        data,
		ContentType: aws.String(contentType),
	}); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart streams data through the transfer manager. partSize is raised
// to the 5 MiB minimum. The content type follows the path extension.
func (s *Store) PutMultipart(ctx context.Context, p string, data io.Reader, partSize int64) error {
	key, k := s.object(p)
	up := manager.NewUploader(s.c.s3, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.c.bucket),
		Key:         k,
		Body:        data,
		ContentType: aws.String(contentTypeOf(p)),
	}); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

func contentTypeOf(p string) string {
	switch path.Ext(p) {
	case ".json":
		return domain.ContentTypeJSON
	case ".jsonl":
		return domain.ContentTypeJSONL
	case ".csv":
		return "text/csv"
	}
	return "application/octet-stream"
}

// isNotFound matches NoSuchKey, the HeadObject NotFound and providers that
// answer with a bare 404.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == 404
}

var _ domain.BlobStore = (*Store)(nil)
