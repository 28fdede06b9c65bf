package corpus

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
)

const payload = `<dblp><article key="journals/foo/1"><title>Bar</title></article></dblp>`

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOpenDetectsCompression(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]byte{
		"plain.xml":     []byte(payload),
		"dblp.xml.gz":   gzipBytes(t, payload),
		"dblp.xml.zst":  zstdBytes(t, payload),
		"misnamed.data": gzipBytes(t, payload),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name)
			if err := os.WriteFile(p, data, 0o644); err != nil {
				t.Fatal(err)
			}
			rc, err := Open(context.Background(), p, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != payload {
				t.Fatalf("unexpected content %q", got)
			}
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.xml.gz"), nil); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

type fakeObjects struct {
	bucket, key string
	data        []byte
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = *in.Bucket, *in.Key
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.data))}, nil
}

func TestOpenFromObjectStore(t *testing.T) {
	objects := &fakeObjects{data: gzipBytes(t, payload)}
	rc, err := Open(context.Background(), "s3://dumps/dblp/dblp.xml.gz", objects)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	s := NewScanner(rc, "article")
	if !s.Scan() {
		t.Fatalf("expected a record, err=%v", s.Err())
	}
	rec := s.Record()
	defer rec.Release()
	if rec.Key() != "journals/foo/1" {
		t.Fatalf("unexpected key %q", rec.Key())
	}
	if objects.bucket != "dumps" || objects.key != "dblp/dblp.xml.gz" {
		t.Fatalf("unexpected object %s/%s", objects.bucket, objects.key)
	}
}

func TestOpenObjectStoreNotConfigured(t *testing.T) {
	if _, err := Open(context.Background(), "s3://dumps/dblp.xml.gz", nil); err == nil {
		t.Fatalf("expected error without object store")
	}
	if !IsRemote("s3://dumps/dblp.xml.gz") || IsRemote("/data/dblp.xml.gz") || IsRemote("s3://bucket-only") {
		t.Fatalf("IsRemote misclassified a location")
	}
}
