// Package s3 provides an S3-compatible storage backend. Folders are key
// prefixes; a folder is materialized as a zero-byte "name/" marker object so
// that FindFolder works on an otherwise empty folder.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shotrelay/shotrelay/internal/remote"
)

// BackendConfig holds S3 connection settings.
type BackendConfig struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

// Backend implements remote.Backend against an S3 bucket.
type Backend struct {
	client *awss3.Client
	bucket string
}

// New creates an S3 backend.
func New(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Backend{client: client, bucket: cfg.Bucket}, nil
}

func folderPrefix(folderID string) string {
	if folderID == "" {
		return ""
	}
	return strings.TrimSuffix(folderID, "/") + "/"
}

// List returns the objects directly under folderID, oldest first.
func (b *Backend) List(ctx context.Context, folderID string) ([]remote.File, error) {
	return b.ListSince(ctx, folderID, time.Time{})
}

// ListSince returns objects under folderID created after the cursor. A zero
// cursor returns everything. S3 cannot filter server-side by time, so the
// narrowing happens on the listed metadata before any download occurs.
func (b *Backend) ListSince(ctx context.Context, folderID string, cursor time.Time) ([]remote.File, error) {
	prefix := folderPrefix(folderID)

	var files []remote.File
	paginator := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", folderID, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue // folder marker
			}
			created := aws.ToTime(obj.LastModified)
			if !cursor.IsZero() && !created.After(cursor) {
				continue
			}
			files = append(files, remote.File{
				ID:          key,
				Name:        path.Base(key),
				MimeType:    mime.TypeByExtension(path.Ext(key)),
				Size:        aws.ToInt64(obj.Size),
				CreatedTime: created,
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedTime.Before(files[j].CreatedTime)
	})
	return files, nil
}

// Download opens an object's content.
func (b *Backend) Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", fileID, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Delete removes an object. S3 delete is idempotent, so a missing key is
// already success.
func (b *Backend) Delete(ctx context.Context, fileID string) error {
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", fileID, err)
	}
	return nil
}

// CreateFolder writes a zero-byte folder marker and returns the folder ID.
func (b *Backend) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	id := folderPrefix(parentID) + name
	_, err := b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(id + "/"),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", id, err)
	}
	return id, nil
}

// FindFolder reports whether any object exists under the folder prefix.
func (b *Backend) FindFolder(ctx context.Context, name, parentID string) (string, bool, error) {
	id := folderPrefix(parentID) + name
	out, err := b.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(id + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", false, fmt.Errorf("find folder %s: %w", id, err)
	}
	if aws.ToInt32(out.KeyCount) == 0 {
		return "", false, nil
	}
	return id, true, nil
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op; the SDK client holds no long-lived resources here.
func (b *Backend) Close() error { return nil }
