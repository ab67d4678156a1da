package source

import (
	"context"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

type remoteConfig struct {
	s3Client        *s3.Client
	gcsClient       *storage.Client
	region          string
	credentialsFile string
	gcsOptions      []option.ClientOption
	tempDir         string
}

// WithS3Client reuses an existing S3 client instead of loading the default
// AWS configuration.
func WithS3Client(c *s3.Client) Option {
	return func(cfg *config) { cfg.remote.s3Client = c }
}

// WithRegion sets the AWS region used when no client is supplied.
func WithRegion(region string) Option {
	return func(cfg *config) { cfg.remote.region = region }
}

// WithGCSClient reuses an existing GCS client. It is not closed by Open.
func WithGCSClient(c *storage.Client) Option {
	return func(cfg *config) { cfg.remote.gcsClient = c }
}

// WithCredentialsFile authenticates new GCS clients with a service account file.
func WithCredentialsFile(path string) Option {
	return func(cfg *config) { cfg.remote.credentialsFile = path }
}

// WithGCSOptions passes extra options to new GCS clients.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(cfg *config) { cfg.remote.gcsOptions = append(cfg.remote.gcsOptions, opts...) }
}

// WithTempDir sets where remote archives are downloaded.
func WithTempDir(dir string) Option {
	return func(cfg *config) { cfg.remote.tempDir = dir }
}

func (r *remoteConfig) s3(ctx context.Context) (*s3.Client, error) {
	if r.s3Client != nil {
		return r.s3Client, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if r.region != "" {
		opts = append(opts, awsconfig.WithRegion(r.region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to load AWS config")
	}
	r.s3Client = s3.NewFromConfig(awsCfg)
	return r.s3Client, nil
}

// gcs returns a client and whether the caller owns it.
func (r *remoteConfig) gcs(ctx context.Context) (*storage.Client, bool, error) {
	if r.gcsClient != nil {
		return r.gcsClient, false, nil
	}
	opts := append([]option.ClientOption(nil), r.gcsOptions...)
	if r.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(r.credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to create GCS client")
	}
	return client, true, nil
}

func openS3(ctx context.Context, d Descriptor, cfg *config) (io.ReadCloser, error) {
	client, err := cfg.remote.s3(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(d.Path),
	})
	if err != nil {
		return nil, objectError(err, d)
	}
	return out.Body, nil
}

func openGCS(ctx context.Context, d Descriptor, cfg *config) (io.ReadCloser, error) {
	client, owned, err := cfg.remote.gcs(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(d.Bucket).Object(d.Path).NewReader(ctx)
	if err != nil {
		if owned {
			client.Close()
		}
		return nil, objectError(err, d)
	}
	if !owned {
		return r, nil
	}
	return &multiCloser{Reader: r, closers: []io.Closer{r, client}}, nil
}

// download copies a remote object into a temp file and returns its path.
// S3 objects use the concurrent range downloader.
func download(ctx context.Context, d Descriptor, cfg *config) (string, error) {
	f, err := os.CreateTemp(cfg.remote.tempDir, "nebula-csv-*"+path.Ext(d.Path))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to create temp file")
	}
	name := f.Name()
	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(name)
		return "", err
	}

	switch d.Kind {
	case KindS3:
		client, err := cfg.remote.s3(ctx)
		if err != nil {
			return fail(err)
		}
		_, err = manager.NewDownloader(client).Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(d.Bucket),
			Key:    aws.String(d.Path),
		})
		if err != nil {
			return fail(objectError(err, d))
		}
	case KindGCS:
		r, err := openGCS(ctx, d, cfg)
		if err != nil {
			return fail(err)
		}
		_, err = io.Copy(f, r)
		r.Close()
		if err != nil {
			return fail(objectError(err, d))
		}
	default:
		return fail(errors.Newf(errors.ErrorTypeInternal, "cannot download %s sources", d.Kind))
	}

	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to write temp file")
	}
	return name, nil
}

func objectError(err error, d Descriptor) error {
	return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to read object").
		WithDetail("bucket", d.Bucket).
		WithDetail("key", d.Path)
}
