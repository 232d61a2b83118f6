package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/util"
)

// Archiver stores terminal jobs before the retention purge deletes them.
type Archiver interface {
	Archive(ctx context.Context, jobs []*model.JobSpec) error
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("archive endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("archive bucket is required")
	}
	return nil
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioArchiver writes each purge batch as one newline delimited JSON object
// under <prefix>/<yyyy>/<mm>/<dd>/.
type MinioArchiver struct {
	client         objectPutter
	bucket         string
	prefix         string
	encoderDecoder util.EncoderDecoder[model.JobSpec]
	now            func() time.Time
}

var _ Archiver = new(MinioArchiver)

func NewMinioArchiver(ctx context.Context, cfg Config) (*MinioArchiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, err
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make archive bucket: %w", err)
		}
	}
	return newArchiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newArchiver(client objectPutter, bucket string, prefix string) *MinioArchiver {
	if prefix == "" {
		prefix = "jobs"
	}
	return &MinioArchiver{
		client:         client,
		bucket:         bucket,
		prefix:         prefix,
		encoderDecoder: util.NewJsonEncoderDecoder[model.JobSpec](),
		now:            time.Now,
	}
}

func (a *MinioArchiver) Archive(ctx context.Context, jobs []*model.JobSpec) error {
	if len(jobs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, job := range jobs {
		data, err := a.encoderDecoder.Encode(*job)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	name := a.objectName(jobs[0].Id)
	_, err := a.client.PutObject(ctx, a.bucket, name, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	return nil
}

func (a *MinioArchiver) objectName(firstId string) string {
	now := a.now().UTC()
	return path.Join(a.prefix, now.Format("2006/01/02"), fmt.Sprintf("%d-%s.jsonl", now.UnixMilli(), firstId))
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}
