// Package s3store is a remote record store kept in an S3 bucket.
//
// Each record is one JSON object, <prefix>records/<id>.json, in the record
// wire form. Any S3-compatible endpoint works; set Options.Endpoint and
// Options.PathStyle for MinIO and similar servers.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// API is the subset of the S3 client used by the store.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options configures the store.
type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool

	// FetchConcurrency bounds parallel GetObject calls during a query.
	FetchConcurrency int

	Logger *log.Logger
}

// Store is an S3-backed remote store bound to one account.
type Store struct {
	api     API
	bucket  string
	prefix  string
	account string
	fetchN  int
	logger  *log.Logger

	mu  sync.Mutex
	now func() time.Time
}

var _ remote.Store = (*Store)(nil)

// Open loads AWS configuration from the default credential chain and
// returns a store for opts.Bucket.
func Open(ctx context.Context, opts Options, account string) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return New(client, opts, account)
}

// New returns a store using api. Mostly useful in tests.
func New(api API, opts Options, account string) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	prefix := opts.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	n := opts.FetchConcurrency
	if n <= 0 {
		n = 8
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[s3store] ", log.LstdFlags)
	}

	return &Store{
		api:     api,
		bucket:  opts.Bucket,
		prefix:  prefix + "records/",
		account: account,
		fetchN:  n,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *Store) key(id string) (string, error) {
	if err := schema.ValidateRecordID(id); err != nil {
		return "", err
	}
	return s.prefix + id + ".json", nil
}

// Fetch downloads one record.
func (s *Store) Fetch(ctx context.Context, id string) (*schema.Record, error) {
	key, err := s.key(id)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, id, key)
}

func (s *Store) get(ctx context.Context, id, key string) (*schema.Record, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, remote.NotFound(id)
		}
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}
	return schema.DecodeRecord(data)
}

// Save uploads a record, keeping the creator of an existing record.
func (s *Store) Save(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	key, err := s.key(rec.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(ctx, rec.ID, key)
	if err != nil && !remote.IsNotFound(err) {
		return nil, err
	}

	stored := remote.Stamp(rec, existing, s.account, s.now())
	data, err := schema.EncodeRecord(stored)
	if err != nil {
		return nil, err
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put record %s: %w", rec.ID, err)
	}
	return stored, nil
}

// Delete removes a record. S3 deletes succeed for missing keys, so the key
// is checked first to report not-found like the other stores.
func (s *Store) Delete(ctx context.Context, id string) error {
	key, err := s.key(id)
	if err != nil {
		return err
	}

	_, err = s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return remote.NotFound(id)
		}
		return fmt.Errorf("failed to stat record %s: %w", id, err)
	}

	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// Query lists every record object and downloads them in parallel. Objects
// deleted between the listing and the download are skipped, as are objects
// holding an invalid record. Any other download failure fails the query.
func (s *Store) Query(ctx context.Context, q remote.Query) ([]*schema.Record, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list records: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, ".json") {
				keys = append(keys, key)
			}
		}
	}

	records := make([]*schema.Record, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchN)
	for i, key := range keys {
		g.Go(func() error {
			id := strings.TrimSuffix(strings.TrimPrefix(key, s.prefix), ".json")
			rec, err := s.get(gctx, id, key)
			switch {
			case err == nil:
				records[i] = rec
			case remote.IsNotFound(err):
				// deleted since the listing
			case errors.Is(err, schema.ErrInvalidRecord):
				s.logger.Printf("WARNING: skipping invalid record %s: %v", id, err)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	found := records[:0]
	for _, rec := range records {
		if rec != nil {
			found = append(found, rec)
		}
	}
	return q.Filter(found), nil
}

// isNotFound recognizes the ways S3 and compatible servers report a
// missing key.
func isNotFound(err error) bool {
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
	)
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
