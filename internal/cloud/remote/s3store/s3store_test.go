package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// fakeS3 is an in-memory bucket. Listings return pages of two keys.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErrs map[string]error
	listErr error
	lists   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErrs[aws.ToString(in.Key)]; err != nil {
		return nil, err
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := start + 2
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func setupStore(t *testing.T, api API, account string) *Store {
	t.Helper()
	s, err := New(api, Options{Bucket: "todos", Prefix: "shared", Logger: log.New(io.Discard, "", 0)}, account)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func todoRecord(id string) *schema.Record {
	rec := schema.NewRecord(schema.RecordType, id)
	rec.Set("CD_title", schema.String("title "+id))
	return rec
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(newFakeS3(), Options{}, "_a"); err == nil {
		t.Error("New() without bucket should fail")
	}
}

func TestStore_SaveFetchDelete(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	alice := setupStore(t, api, "_alice")
	bob := setupStore(t, api, "_bob")

	if _, err := alice.Fetch(ctx, "t-1"); !remote.IsNotFound(err) {
		t.Fatalf("Fetch() missing error = %v, want not found", err)
	}

	if _, err := alice.Save(ctx, todoRecord("t-1")); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, ok := api.objects["shared/records/t-1.json"]; !ok {
		t.Errorf("object keys = %v, want shared/records/t-1.json", api.objects)
	}

	updated, err := bob.Save(ctx, todoRecord("t-1"))
	if err != nil {
		t.Fatalf("Save() update error: %v", err)
	}
	if updated.CreatorID != "_alice" {
		t.Errorf("CreatorID = %q, want _alice", updated.CreatorID)
	}

	got, err := bob.Fetch(ctx, "t-1")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if v, _ := got.Get("CD_title"); !v.Equal(schema.String("title t-1")) {
		t.Errorf("title = %#v", v)
	}

	if err := bob.Delete(ctx, "t-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := bob.Delete(ctx, "t-1"); !remote.IsNotFound(err) {
		t.Errorf("second Delete() error = %v, want not found", err)
	}
}

func TestStore_QueryPaginates(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	alice := setupStore(t, api, "_alice")
	bob := setupStore(t, api, "_bob")

	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := alice.Save(ctx, todoRecord(id)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := bob.Save(ctx, todoRecord("b1")); err != nil {
		t.Fatal(err)
	}
	all, err := bob.Query(ctx, remote.TodoQuery(remote.AllRecords()))
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Query() returned %d records, want 4", len(all))
	}
	if api.lists < 3 {
		t.Errorf("ListObjectsV2 called %d times, want at least 3 pages", api.lists)
	}

	mine, err := bob.Query(ctx, remote.TodoQuery(remote.CreatorScope("_bob")))
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "b1" {
		t.Errorf("creator scope = %v, want [b1]", mine)
	}
}

func TestStore_QueryFetchErrors(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	s := setupStore(t, api, "_alice")

	for _, id := range []string{"a", "b"} {
		if _, err := s.Save(ctx, todoRecord(id)); err != nil {
			t.Fatal(err)
		}
	}
	api.objects["shared/records/broken.json"] = []byte("{")

	all, err := s.Query(ctx, remote.TodoQuery(remote.AllRecords()))
	if err != nil {
		t.Fatalf("Query() with an invalid object error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Query() returned %d records, want 2", len(all))
	}

	api.getErrs = map[string]error{
		"shared/records/a.json": &smithy.GenericAPIError{Code: "SlowDown", Message: "Please reduce your request rate."},
	}
	got, err := s.Query(ctx, remote.TodoQuery(remote.AllRecords()))
	if err == nil {
		t.Fatalf("Query() = %d records, want the throttling error", len(got))
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "SlowDown" {
		t.Errorf("Query() error = %v, want SlowDown", err)
	}
}

func TestStore_QueryListError(t *testing.T) {
	api := newFakeS3()
	api.listErr = errors.New("access denied")
	s := setupStore(t, api, "_a")

	if _, err := s.Query(context.Background(), remote.Query{}); err == nil {
		t.Error("Query() should surface a listing error")
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"head not found", &types.NotFound{}, true},
		{"api error code", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain", errors.New("timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Errorf("isNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
