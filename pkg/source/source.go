// Package source resolves CSV locations into byte streams.
//
// A Descriptor names where bytes come from: a local file (optionally memory
// mapped or compressed), an in-memory buffer, an object in S3 or GCS, or a
// member of a zip archive stored in any of those places. Descriptors are
// plain data; Open performs the I/O.
package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-csv/pkg/archive"
	"github.com/ajitpratap0/nebula-csv/pkg/compression"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/logger"
	"github.com/ajitpratap0/nebula-csv/pkg/mmap"
)

// Kind identifies the storage a Descriptor points at.
type Kind string

const (
	// KindFile is a local file.
	KindFile Kind = "file"
	// KindMemory is an in-memory buffer.
	KindMemory Kind = "memory"
	// KindS3 is an Amazon S3 object.
	KindS3 Kind = "s3"
	// KindGCS is a Google Cloud Storage object.
	KindGCS Kind = "gs"
)

// Descriptor locates a byte source.
type Descriptor struct {
	Kind Kind `json:"kind"`
	// Path is the local path, or the object key for S3 and GCS.
	Path   string `json:"path,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	// Archive marks Path as a zip archive; Member selects the entry inside it.
	Archive bool   `json:"archive,omitempty"`
	Member  string `json:"member,omitempty"`
	// Compression is applied to the file, or to the member for archives.
	Compression compression.Algorithm `json:"compression,omitempty"`
	// Mmap maps local files instead of reading them.
	Mmap bool `json:"mmap,omitempty"`
	// Data backs KindMemory descriptors.
	Data []byte `json:"data,omitempty"`
}

// File describes a local file, detecting compression from its extension.
func File(path string) Descriptor {
	alg, _ := compression.DetectFromPath(path)
	return Descriptor{Kind: KindFile, Path: path, Compression: alg}
}

// Memory describes an in-memory buffer.
func Memory(data []byte) Descriptor {
	return Descriptor{Kind: KindMemory, Data: data}
}

// Parse parses a location string:
//
//	data.csv, data.csv.gz          local file
//	s3://bucket/key.csv            S3 object
//	gs://bucket/object.csv         GCS object
//	exports.zip#2024/orders.csv    archive member (any of the above)
//	exports.zip                    the only CSV member of an archive
func Parse(uri string) (Descriptor, error) {
	var d Descriptor
	loc, member, hasMember := strings.Cut(uri, "#")
	if loc == "" {
		return d, errors.New(errors.ErrorTypeConfig, "empty source location")
	}

	switch {
	case strings.HasPrefix(loc, "s3://"):
		d.Kind = KindS3
		d.Bucket, d.Path, _ = strings.Cut(strings.TrimPrefix(loc, "s3://"), "/")
	case strings.HasPrefix(loc, "gs://"):
		d.Kind = KindGCS
		d.Bucket, d.Path, _ = strings.Cut(strings.TrimPrefix(loc, "gs://"), "/")
	default:
		d.Kind = KindFile
		d.Path = loc
	}
	if d.Kind != KindFile && (d.Bucket == "" || d.Path == "") {
		return d, errors.Newf(errors.ErrorTypeConfig, "location %q needs a bucket and an object key", uri)
	}

	if hasMember || strings.EqualFold(filepath.Ext(d.Path), ".zip") {
		d.Archive = true
		d.Member = member
		d.Compression, _ = compression.DetectFromPath(member)
		return d, nil
	}
	d.Compression, _ = compression.DetectFromPath(d.Path)
	return d, nil
}

// MustParse is Parse for constant locations in tests and examples.
func MustParse(uri string) Descriptor {
	d, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders the descriptor in Parse syntax.
func (d Descriptor) String() string {
	var loc string
	switch d.Kind {
	case KindS3, KindGCS:
		loc = string(d.Kind) + "://" + d.Bucket + "/" + d.Path
	case KindMemory:
		loc = "memory"
	default:
		loc = d.Path
	}
	if d.Archive && d.Member != "" {
		loc += "#" + d.Member
	}
	return loc
}

// Name is a short label for logs and metrics.
func (d Descriptor) Name() string {
	if d.Archive && d.Member != "" {
		return filepath.Base(d.Path) + "#" + d.Member
	}
	if d.Kind == KindMemory {
		return "memory"
	}
	return filepath.Base(d.Path)
}

// Validate checks that the descriptor is complete.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindFile:
		if d.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "file source needs a path")
		}
	case KindMemory:
		if d.Archive {
			return errors.New(errors.ErrorTypeConfig, "memory sources cannot hold archives")
		}
	case KindS3, KindGCS:
		if d.Bucket == "" || d.Path == "" {
			return errors.Newf(errors.ErrorTypeConfig, "%s source needs a bucket and a key", d.Kind)
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown source kind %q", d.Kind)
	}
	if d.Mmap && d.Kind != KindFile {
		return errors.New(errors.ErrorTypeConfig, "mmap applies to local files only")
	}
	_, err := compression.ParseAlgorithm(string(d.Compression))
	return err
}

// Open returns a stream over the descriptor's bytes. The caller closes it.
func Open(ctx context.Context, d Descriptor, options ...Option) (io.ReadCloser, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	cfg := newConfig(options)
	log := cfg.logger.With(zap.String("source", d.String()))

	if d.Archive {
		return openArchiveMember(ctx, d, cfg, log)
	}

	var (
		raw io.ReadCloser
		err error
	)
	switch d.Kind {
	case KindFile:
		raw, err = openLocal(d.Path, d.Mmap)
	case KindMemory:
		raw = io.NopCloser(bytes.NewReader(d.Data))
	case KindS3:
		raw, err = openS3(ctx, d, cfg)
	case KindGCS:
		raw, err = openGCS(ctx, d, cfg)
	}
	if err != nil {
		return nil, err
	}
	log.Debug("source opened", zap.String("compression", string(d.Compression)), zap.Bool("mmap", d.Mmap))
	return decompress(raw, d.Compression)
}

func openLocal(path string, mapped bool) (io.ReadCloser, error) {
	if mapped {
		r, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to open file").
			WithDetail("path", path)
	}
	return f, nil
}

// openArchiveMember opens a zip stored locally, or downloads a remote one to
// a temp file first since zip needs random access.
func openArchiveMember(ctx context.Context, d Descriptor, cfg *config, log *zap.Logger) (io.ReadCloser, error) {
	path := d.Path
	var cleanup func() error
	if d.Kind != KindFile {
		tmp, err := download(ctx, d, cfg)
		if err != nil {
			return nil, err
		}
		path = tmp
		cleanup = func() error { return os.Remove(tmp) }
		log.Debug("archive downloaded", zap.String("tmp", tmp))
	}

	member, err := archive.OpenMember(path, d.Member)
	if err != nil {
		if cleanup != nil {
			_ = cleanup()
		}
		return nil, err
	}
	alg := d.Compression
	if alg == "" || alg == compression.None {
		alg, _ = compression.DetectFromPath(member.Name())
	}
	rc, err := decompress(member, alg)
	if err != nil {
		if cleanup != nil {
			_ = cleanup()
		}
		return nil, err
	}
	if cleanup == nil {
		return rc, nil
	}
	return &multiCloser{Reader: rc, closers: []io.Closer{rc, closerFunc(cleanup)}}, nil
}

// decompress layers a decompressor over raw. Closing the result closes both.
func decompress(raw io.ReadCloser, alg compression.Algorithm) (io.ReadCloser, error) {
	if alg == "" || alg == compression.None {
		return raw, nil
	}
	dec, err := compression.NewReader(raw, alg)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return &multiCloser{Reader: dec, closers: []io.Closer{dec, raw}}, nil
}

// multiCloser reads from Reader and closes every closer in order.
type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var result *multierror.Error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	m.closers = nil
	return result.ErrorOrNil()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Option configures Open.
type Option func(*config)

type config struct {
	logger *zap.Logger
	remote remoteConfig
}

func newConfig(options []Option) *config {
	cfg := &config{}
	for _, o := range options {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.With(zap.String("component", "source"))
	}
	return cfg
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}
