// Package archive exposes CSV members of zip archives as plain byte streams.
//
// Members are resolved by exact path first and then by a unique base name.
// Failures are reported with distinct error types so callers can tell a
// missing member from an ambiguous one or from a damaged archive:
//
//	rc, err := archive.OpenMember("exports.zip", "orders.csv")
//	if errors.IsType(err, errors.ErrorTypeArchiveMemberAmbiguous) {
//	    // ask for a full member path
//	}
package archive

import (
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-csv/pkg/compression"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/logger"
)

// Member describes one file entry of an archive.
type Member struct {
	Name             string    `json:"name"`
	Size             uint64    `json:"size"`
	CompressedSize   uint64    `json:"compressed_size"`
	Method           uint16    `json:"method"`
	Modified         time.Time `json:"modified"`
	CompressionInner string    `json:"compression,omitempty"`
}

// Archive is an open zip archive.
type Archive struct {
	name   string
	zr     *zip.Reader
	closer io.Closer
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open opens the zip archive at path.
func Open(p string) (*Archive, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to open archive").
			WithDetail("path", p)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to stat archive").
			WithDetail("path", p)
	}
	a, err := NewReader(f, st.Size(), p)
	if err != nil {
		f.Close()
		return nil, err
	}
	a.closer = f
	return a, nil
}

// NewReader reads an archive of the given size from r. The caller keeps
// ownership of r.
func NewReader(r io.ReaderAt, size int64, name string) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeArchiveCorrupt, "invalid zip archive").
			WithDetail("path", name)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	return &Archive{
		name:   name,
		zr:     zr,
		logger: logger.With(zap.String("component", "archive"), zap.String("archive", name)),
	}, nil
}

// Name returns the path the archive was opened from.
func (a *Archive) Name() string { return a.name }

// Members lists every file entry in archive order. Directories are omitted.
func (a *Archive) Members() []Member {
	out := make([]Member, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		alg, _ := compression.DetectFromPath(f.Name)
		m := Member{
			Name:           f.Name,
			Size:           f.UncompressedSize64,
			CompressedSize: f.CompressedSize64,
			Method:         f.Method,
			Modified:       f.Modified,
		}
		if alg != compression.None {
			m.CompressionInner = string(alg)
		}
		out = append(out, m)
	}
	return out
}

// MethodName names a zip compression method.
func (m Member) MethodName() string {
	switch m.Method {
	case zip.Store:
		return "store"
	case zip.Deflate:
		return "deflate"
	case zstd.ZipMethodWinZip, zstd.ZipMethodPKWare:
		return "zstd"
	default:
		return strconv.Itoa(int(m.Method))
	}
}

// CSVMembers lists members holding CSV data, optionally compressed, sorted by
// name. Hidden entries and metadata folders (any path segment starting with
// "." or "__") are skipped.
func (a *Archive) CSVMembers() []Member {
	var out []Member
	for _, m := range a.Members() {
		if IsCSVName(m.Name) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsCSVName reports whether a member name looks like visible CSV data.
func IsCSVName(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") || strings.HasPrefix(seg, "__") {
			return false
		}
	}
	_, inner := compression.DetectFromPath(name)
	return strings.EqualFold(path.Ext(inner), ".csv")
}

// Resolve maps a requested member name to an archive entry. An empty name
// selects the only CSV member.
func (a *Archive) Resolve(name string) (*zip.File, error) {
	if name == "" {
		csvs := a.CSVMembers()
		switch len(csvs) {
		case 0:
			return nil, errors.New(errors.ErrorTypeArchiveMemberNotFound, "archive has no csv members").
				WithDetail("archive", a.name)
		case 1:
			name = csvs[0].Name
		default:
			return nil, errors.Newf(errors.ErrorTypeArchiveMemberAmbiguous,
				"archive has %d csv members; name one", len(csvs)).
				WithDetail("archive", a.name).
				WithDetail("candidates", memberNames(csvs))
		}
	}

	want := strings.TrimPrefix(name, "./")
	var byBase []*zip.File
	for _, f := range a.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Name == want {
			return f, nil
		}
		if path.Base(f.Name) == want {
			byBase = append(byBase, f)
		}
	}

	switch len(byBase) {
	case 0:
		return nil, errors.Newf(errors.ErrorTypeArchiveMemberNotFound, "member %q not found", name).
			WithDetail("archive", a.name).
			WithDetail("member", name)
	case 1:
		return byBase[0], nil
	}
	names := make([]string, len(byBase))
	for i, f := range byBase {
		names[i] = f.Name
	}
	return nil, errors.Newf(errors.ErrorTypeArchiveMemberAmbiguous, "member %q matches %d entries", name, len(byBase)).
		WithDetail("archive", a.name).
		WithDetail("member", name).
		WithDetail("candidates", names)
}

// OpenMember opens the named member for streaming. Read errors caused by
// damaged data are reported as archive_corrupt.
func (a *Archive) OpenMember(name string) (*MemberReader, error) {
	f, err := a.Resolve(name)
	if err != nil {
		return nil, err
	}
	rc, err := f.Open()
	if err != nil {
		return nil, corrupt(err, a.name, f.Name)
	}
	a.logger.Debug("opened archive member",
		zap.String("member", f.Name),
		zap.Uint64("size", f.UncompressedSize64),
		zap.Uint16("method", f.Method))
	return &MemberReader{rc: rc, archive: a.name, member: f.Name}, nil
}

// Close releases the archive file when the archive was opened by path.
func (a *Archive) Close() error {
	a.closeOnce.Do(func() {
		if a.closer != nil {
			if err := a.closer.Close(); err != nil {
				a.closeErr = errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to close archive")
			}
		}
	})
	return a.closeErr
}

// OpenMember opens archivePath and streams the named member. Closing the
// returned reader also closes the archive.
func OpenMember(archivePath, name string) (*MemberReader, error) {
	a, err := Open(archivePath)
	if err != nil {
		return nil, err
	}
	mr, err := a.OpenMember(name)
	if err != nil {
		a.Close()
		return nil, err
	}
	mr.owner = a
	return mr, nil
}

// MemberReader streams one archive member.
type MemberReader struct {
	rc      io.ReadCloser
	archive string
	member  string
	owner   *Archive
}

// Name returns the resolved member path.
func (m *MemberReader) Name() string { return m.member }

func (m *MemberReader) Read(p []byte) (int, error) {
	n, err := m.rc.Read(p)
	if err != nil && err != io.EOF {
		err = corrupt(err, m.archive, m.member)
	}
	return n, err
}

func (m *MemberReader) Close() error {
	var result *multierror.Error
	if err := m.rc.Close(); err != nil {
		result = multierror.Append(result, corrupt(err, m.archive, m.member))
	}
	if m.owner != nil {
		if err := m.owner.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// corrupt classifies member errors. Failures of the underlying file are
// source_unavailable; everything else is damaged archive data.
func corrupt(err error, archive, member string) error {
	var pathErr *fs.PathError
	typ := errors.ErrorTypeArchiveCorrupt
	if errors.As(err, &pathErr) {
		typ = errors.ErrorTypeSourceUnavailable
	}
	return errors.Wrap(err, typ, "failed to read archive member").
		WithDetail("archive", archive).
		WithDetail("member", member)
}

func memberNames(ms []Member) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}
