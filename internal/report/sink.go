package report

import (
	"bytes"
	"context"
	"strings"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gocloud.dev/blob"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"
)

// Sink delivers one finished report artifact under the given name.
type Sink interface {
	Write(ctx context.Context, name string, data []byte) error
}

// BlobSink writes reports to a blob bucket (file:// for local spool
// directories, s3:// for vendor-shared buckets).
type BlobSink struct {
	bucket *blob.Bucket
}

// NewBlobSink opens the bucket behind the given URL.
func NewBlobSink(ctx context.Context, bucketURL string) (*BlobSink, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, eris.Wrapf(err, "report: open bucket %s", bucketURL)
	}
	return &BlobSink{bucket: bucket}, nil
}

// Write implements Sink.
func (s *BlobSink) Write(ctx context.Context, name string, data []byte) error {
	if err := s.bucket.WriteAll(ctx, name, data, nil); err != nil {
		return eris.Wrapf(err, "report: write %s", name)
	}
	zap.L().Info("report written", zap.String("name", name), zap.Int("bytes", len(data)))
	return nil
}

// Close releases the bucket.
func (s *BlobSink) Close() error {
	return s.bucket.Close()
}

// FTPSink uploads reports to a vendor FTP drop. Each write opens a fresh
// connection since runs are minutes apart and servers drop idle sessions.
type FTPSink struct {
	addr     string
	user     string
	password string
	dir      string
}

// NewFTPSink creates an FTPSink targeting the given directory.
func NewFTPSink(addr, user, password, dir string) *FTPSink {
	return &FTPSink{addr: addr, user: user, password: password, dir: dir}
}

// Write implements Sink.
func (s *FTPSink) Write(ctx context.Context, name string, data []byte) error {
	conn, err := ftp.Dial(s.addr, ftp.DialWithContext(ctx))
	if err != nil {
		return eris.Wrapf(err, "report: dial ftp %s", s.addr)
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login(s.user, s.password); err != nil {
		return eris.Wrap(err, "report: ftp login")
	}

	path := name
	if s.dir != "" {
		path = strings.TrimRight(s.dir, "/") + "/" + name
	}
	if err := conn.Stor(path, bytes.NewReader(data)); err != nil {
		return eris.Wrapf(err, "report: store %s", path)
	}
	zap.L().Info("report uploaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
