package s3

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/theapemachine/mnemo/pkg/errors"
)

type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

/*
Conn is a thin object-storage connection over any S3 compatible endpoint.
*/
type Conn struct {
	Client *minio.Client
}

func NewConn(cfg Config) (*Conn, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})

	if err != nil {
		return nil, errors.Wrap(errors.KindFatalConfig, err, "s3 client")
	}

	return &Conn{Client: client}, nil
}

func (conn *Conn) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := conn.Client.BucketExists(ctx, bucket)

	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "bucket exists")
	}

	if exists {
		return nil
	}

	if err := conn.Client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrap(errors.KindTransient, err, "make bucket")
	}

	return nil
}

func (conn *Conn) Put(
	ctx context.Context,
	bucket string,
	key string,
	body io.Reader,
	size int64,
) error {
	_, err := conn.Client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})

	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "put object "+key)
	}

	return nil
}
