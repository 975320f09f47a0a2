package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/clinicsql/clinicsql/internal/storage"
)

func TestPutUsesPrefixAndNormalizedKey(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "clinicsql/prod", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	_, err = store.Put(context.Background(), "/snapshots/s1/customers.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastPutBucket != "bucket-a" {
		t.Fatalf("bucket = %q", fake.lastPutBucket)
	}
	if fake.lastPutKey != "clinicsql/prod/snapshots/s1/customers.parquet" {
		t.Fatalf("key = %q", fake.lastPutKey)
	}
}

func TestPutForwardsMetadata(t *testing.T) {
	fake := &fakeClient{}
	store, _ := NewWithClient("bucket-a", "", fake)
	opts := storage.PutOptions{ContentType: "application/json", Metadata: map[string]string{"snapshot-id": "s1"}}
	if _, err := store.Put(context.Background(), "snapshots/s1/manifest.json", bytes.NewBufferString("{}"), 2, opts); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastPutOpts.ContentType != "application/json" || fake.lastPutOpts.Metadata["snapshot-id"] != "s1" {
		t.Fatalf("opts = %+v", fake.lastPutOpts)
	}
}

func TestDeleteManyPrefixesKeys(t *testing.T) {
	fake := &fakeClient{}
	store, _ := NewWithClient("bucket-a", "clinicsql", fake)
	keys := []string{"snapshots/s1/manifest.json", "/snapshots/s1/customers.parquet"}
	if err := store.DeleteMany(context.Background(), keys); err != nil {
		t.Fatalf("DeleteMany() error = %v", err)
	}
	want := []string{"clinicsql/snapshots/s1/manifest.json", "clinicsql/snapshots/s1/customers.parquet"}
	if strings.Join(fake.deletedMany, ",") != strings.Join(want, ",") {
		t.Fatalf("deleted = %v", fake.deletedMany)
	}

	if err := store.DeleteMany(context.Background(), []string{"../x"}); err == nil {
		t.Fatal("expected invalid key error")
	}
	if err := storage.DeleteAll(context.Background(), store, nil); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	_, err = store.Put(context.Background(), "../secrets.txt", bytes.NewBufferString("x"), 1, storage.PutOptions{})
	if err == nil {
		t.Fatal("expected path traversal validation error")
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeClient{bucketExists: false}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if !fake.createBucketCalled {
		t.Fatal("expected CreateBucket to be called")
	}
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	fake := &fakeClient{deleteErr: storage.ErrObjectNotFound}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if err := store.Delete(context.Background(), "snapshots/missing/customers.parquet"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestListStripsPrefix(t *testing.T) {
	fake := &fakeClient{listed: []storage.ObjectInfo{
		{Key: "clinicsql/snapshots/b/manifest.json"},
		{Key: "clinicsql/snapshots/a/manifest.json"},
	}}
	store, err := NewWithClient("bucket-a", "/clinicsql/", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	infos, err := store.List(context.Background(), "snapshots/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fake.lastListPrefix != "clinicsql/snapshots/" {
		t.Fatalf("prefix = %q", fake.lastListPrefix)
	}
	if len(infos) != 2 || infos[0].Key != "snapshots/a/manifest.json" {
		t.Fatalf("infos = %+v", infos)
	}
}

func TestHealthCheckRequiresBucket(t *testing.T) {
	store, err := NewWithClient("bucket-a", "", &fakeClient{bucketExists: false})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error for missing bucket")
	}
	store, _ = NewWithClient("bucket-a", "", &fakeClient{bucketExists: true})
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}

func TestGetMapsMissingObject(t *testing.T) {
	store, _ := NewWithClient("bucket-a", "", &fakeClient{getErr: storage.ErrObjectNotFound})
	if _, err := store.Get(context.Background(), "snapshots/LATEST"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}
}

type fakeClient struct {
	lastPutBucket      string
	lastPutKey         string
	lastPutOpts        storage.PutOptions
	deletedMany        []string
	bucketExists       bool
	createBucketCalled bool
	deleteErr          error
	getErr             error
	listed             []storage.ObjectInfo
	lastListPrefix     string
}

func (f *fakeClient) Put(_ context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	f.lastPutBucket = bucket
	f.lastPutKey = key
	f.lastPutOpts = opts
	_, _ = io.Copy(io.Discard, reader)
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeClient) Get(_ context.Context, _, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return io.NopCloser(strings.NewReader(key)), nil
}

func (f *fakeClient) Stat(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{Key: key, Size: 10, LastModified: time.Now().UTC()}, nil
}

func (f *fakeClient) Delete(_ context.Context, _, _ string) error {
	return f.deleteErr
}

func (f *fakeClient) DeleteMany(_ context.Context, _ string, keys []string) error {
	f.deletedMany = append(f.deletedMany, keys...)
	return nil
}

func (f *fakeClient) List(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	f.lastListPrefix = prefix
	return append([]storage.ObjectInfo(nil), f.listed...), nil
}

func (f *fakeClient) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeClient) CreateBucket(_ context.Context, _, _ string) error {
	f.createBucketCalled = true
	return nil
}
