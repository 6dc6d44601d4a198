// Package s3 provides a storage backend for Amazon S3 and S3-compatible
// object stores (MinIO, Localstack, Cubbit DS3, etc.).
package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/polystore/polystore/pkg/storage"
	"github.com/polystore/polystore/pkg/storage/fingerprint"
)

// Options configures an S3 backend.
type Options struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region.
	Region string

	// AccessKeyID and SecretAccessKey are static credentials. When empty
	// the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint is a custom endpoint URL for S3-compatible storage.
	// Setting it also forces path-style addressing.
	Endpoint string

	// Basedir is an optional key prefix applied to every path.
	Basedir string

	// MaxRetries bounds retry attempts for transient failures (default 3).
	MaxRetries int
}

// Backend implements storage.Backend on top of an S3 bucket.
//
// Keys mirror external paths (minus the leading slash, plus the optional
// base directory). Skip detection records the object ETag in the
// fingerprint store after each download and compares it on the next one.
type Backend struct {
	id     string
	client *awsS3.Client
	bucket string
	base   string
	fps    fingerprint.Store
}

// New creates an S3 backend, building the client the same way for real
// AWS and for S3-compatible endpoints. fps may be nil to disable
// checksum-based skip detection.
func New(ctx context.Context, storageID string, opts Options, fps fingerprint.Store) (*Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage %s: bucket name is required", storageID)
	}

	var configOptions []func(*awsConfig.LoadOptions) error

	if opts.Region != "" {
		configOptions = append(configOptions, awsConfig.WithRegion(opts.Region))
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awsS3.NewFromConfig(cfg, func(o *awsS3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// Path-style addressing for MinIO/Localstack compatibility.
			o.UsePathStyle = true
		}
	})

	return &Backend{
		id:     storageID,
		client: client,
		bucket: opts.Bucket,
		base:   strings.Trim(opts.Basedir, "/"),
		fps:    fps,
	}, nil
}

func (b *Backend) ID() string   { return b.id }
func (b *Backend) Type() string { return "s3" }

func (b *Backend) InternalPath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if b.base != "" {
		return path.Join(b.base, p)
	}
	return p
}

func (b *Backend) Join(p string, elem ...string) string {
	return path.Join(append([]string{p}, elem...)...)
}

func (b *Backend) Split(p string) (string, string) {
	return path.Split(p)
}

func (b *Backend) Stat(ctx context.Context, p string) (storage.Stat, error) {
	if p == "" {
		return storage.Stat{IsDir: true}, nil
	}

	head, err := b.client.HeadObject(ctx, &awsS3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p),
	})
	if err == nil {
		return storage.Stat{
			Size:         aws.ToInt64(head.ContentLength),
			LastModified: aws.ToTime(head.LastModified),
			Checksum:     cleanETag(aws.ToString(head.ETag)),
		}, nil
	}
	if !isNotFound(err) {
		return storage.Stat{}, storage.NewTransportError(b.id, "stat", 0, err)
	}

	isDir, err := b.IsDir(ctx, p)
	if err != nil {
		return storage.Stat{}, err
	}
	if isDir {
		return storage.Stat{IsDir: true}, nil
	}
	return storage.Stat{}, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
}

// GetFileSafe downloads the object through a temporary file in the
// destination directory and renames it into place. The local
// modification time is set to the object's LastModified, and the ETag is
// recorded for skip detection.
func (b *Backend) GetFileSafe(ctx context.Context, remote, local string) error {
	result, err := b.client.GetObject(ctx, &awsS3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(remote),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", remote, storage.ErrNotFound)
		}
		return storage.NewTransportError(b.id, "get", 0, err)
	}
	defer result.Body.Close()

	if err := storage.WriteFileSafe(local, result.Body, aws.ToTime(result.LastModified)); err != nil {
		return err
	}

	if b.fps != nil {
		if info, err := os.Stat(local); err == nil {
			_ = b.fps.Save(local, storage.Fingerprint{
				Size:     info.Size(),
				ModTime:  info.ModTime(),
				Checksum: cleanETag(aws.ToString(result.ETag)),
			})
		}
	}
	return nil
}

// CheckExistingFile reports whether local already matches the remote
// object. With a fingerprint store present the recorded ETag must match
// the current one and the local file must be untouched since download;
// without one only size and modification time are compared.
func (b *Backend) CheckExistingFile(ctx context.Context, remote, local string) (bool, error) {
	info, err := os.Stat(local)
	if err != nil {
		return false, nil
	}

	head, err := b.client.HeadObject(ctx, &awsS3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(remote),
	})
	if err != nil {
		if isNotFound(err) {
			return false, fmt.Errorf("%s: %w", remote, storage.ErrNotFound)
		}
		return false, storage.NewTransportError(b.id, "stat", 0, err)
	}

	localFP := storage.Fingerprint{Size: info.Size(), ModTime: info.ModTime()}
	remoteFP := storage.Fingerprint{
		Size:     aws.ToInt64(head.ContentLength),
		ModTime:  aws.ToTime(head.LastModified),
		Checksum: cleanETag(aws.ToString(head.ETag)),
	}

	if b.fps != nil {
		fp, ok, err := b.fps.Load(local)
		if err != nil || !ok {
			return false, nil
		}
		untouched := storage.Fingerprint{Size: fp.Size, ModTime: fp.ModTime}
		return fp.Equal(remoteFP) && untouched.Equal(localFP), nil
	}

	remoteFP.Checksum = ""
	return remoteFP.Equal(localFP), nil
}

func (b *Backend) Stream(ctx context.Context, p string, bufferSize int) (*storage.Stream, error) {
	result, err := b.client.GetObject(ctx, &awsS3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
		}
		return nil, storage.NewTransportError(b.id, "stream", 0, err)
	}
	return storage.NewStream(result.Body, bufferSize), nil
}

func (b *Backend) PushFile(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	_, err = b.client.PutObject(ctx, &awsS3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(remote),
		Body:   f,
	})
	if err != nil {
		return storage.NewTransportError(b.id, "push", 0, err)
	}
	return nil
}

func (b *Backend) ListDir(ctx context.Context, p string, recursive, isFile bool) (storage.Listing, error) {
	listing := storage.Listing{}

	if isFile {
		head, err := b.client.HeadObject(ctx, &awsS3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(p),
		})
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
			}
			return nil, storage.NewTransportError(b.id, "list", 0, err)
		}
		listing[path.Base(p)] = storage.Entry{
			Size:         aws.ToInt64(head.ContentLength),
			LastModified: aws.ToTime(head.LastModified),
		}
		return listing, nil
	}

	prefix := p
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	input := &awsS3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	paginator := awsS3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storage.NewTransportError(b.id, "list", 0, err)
		}

		for _, cp := range page.CommonPrefixes {
			rel := strings.TrimPrefix(aws.ToString(cp.Prefix), prefix)
			if rel != "" {
				listing[rel] = storage.Entry{IsDir: true}
			}
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, prefix)
			if rel == "" {
				// Placeholder object for the directory itself.
				continue
			}
			if strings.HasSuffix(rel, "/") {
				listing[rel] = storage.Entry{IsDir: true}
				continue
			}
			// Materialize intermediate directories for recursive listings.
			if recursive {
				parts := strings.Split(rel, "/")
				for i := 1; i < len(parts); i++ {
					listing[strings.Join(parts[:i], "/")+"/"] = storage.Entry{IsDir: true}
				}
			}
			listing[rel] = storage.Entry{
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			}
		}
	}

	return listing, nil
}

// Mkdir writes a zero-byte placeholder object so the directory shows up
// in delimiter listings even while empty.
func (b *Backend) Mkdir(ctx context.Context, p string) error {
	if p == "" {
		return nil
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	_, err := b.client.PutObject(ctx, &awsS3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return storage.NewTransportError(b.id, "mkdir", 0, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, p string, recursive bool) error {
	if recursive {
		keys, err := b.listKeys(ctx, p)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return fmt.Errorf("%s: %w", p, storage.ErrNotFound)
		}
		return b.deleteKeys(ctx, keys)
	}

	exists, err := b.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: %w", p, storage.ErrNotFound)
	}
	isDir, err := b.IsDir(ctx, p)
	if err != nil {
		return err
	}
	if isDir {
		return fmt.Errorf("%s is a directory (use recursive delete)", p)
	}

	_, err = b.client.DeleteObject(ctx, &awsS3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		return storage.NewTransportError(b.id, "delete", 0, err)
	}
	return nil
}

// Rename copies then deletes. Directories are renamed object by object
// since S3 has no server-side move.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	isDir, err := b.IsDir(ctx, oldPath)
	if err != nil {
		return err
	}

	if !isDir {
		if err := b.copyObject(ctx, oldPath, newPath); err != nil {
			return err
		}
		_, err = b.client.DeleteObject(ctx, &awsS3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(oldPath),
		})
		if err != nil {
			return storage.NewTransportError(b.id, "rename", 0, err)
		}
		return nil
	}

	keys, err := b.listKeys(ctx, oldPath)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%s: %w", oldPath, storage.ErrNotFound)
	}
	sort.Strings(keys)

	oldPrefix := strings.TrimSuffix(oldPath, "/") + "/"
	newPrefix := strings.TrimSuffix(newPath, "/") + "/"
	for _, key := range keys {
		target := newPrefix + strings.TrimPrefix(key, oldPrefix)
		if err := b.copyObject(ctx, key, target); err != nil {
			return err
		}
	}
	return b.deleteKeys(ctx, keys)
}

func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if p == "" {
		return true, nil
	}
	_, err := b.client.HeadObject(ctx, &awsS3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p),
	})
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, storage.NewTransportError(b.id, "exists", 0, err)
	}
	return b.IsDir(ctx, p)
}

func (b *Backend) IsDir(ctx context.Context, p string) (bool, error) {
	if p == "" {
		return true, nil
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	result, err := b.client.ListObjectsV2(ctx, &awsS3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, storage.NewTransportError(b.id, "stat", 0, err)
	}
	return len(result.Contents) > 0 || len(result.CommonPrefixes) > 0, nil
}

func (b *Backend) Close() error { return nil }

func (b *Backend) copyObject(ctx context.Context, from, to string) error {
	_, err := b.client.CopyObject(ctx, &awsS3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(b.bucket + "/" + from),
	})
	if err != nil {
		return storage.NewTransportError(b.id, "rename", 0, err)
	}
	return nil
}

// listKeys returns every object key under p, plus p itself when it names
// an object.
func (b *Backend) listKeys(ctx context.Context, p string) ([]string, error) {
	var keys []string
	seen := map[string]bool{}

	_, err := b.client.HeadObject(ctx, &awsS3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p),
	})
	if err == nil {
		keys = append(keys, p)
		seen[p] = true
	} else if !isNotFound(err) {
		return nil, storage.NewTransportError(b.id, "list", 0, err)
	}

	prefix := strings.TrimSuffix(p, "/") + "/"
	paginator := awsS3.NewListObjectsV2Paginator(b.client, &awsS3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storage.NewTransportError(b.id, "list", 0, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !seen[key] {
				keys = append(keys, key)
				seen[key] = true
			}
		}
	}
	return keys, nil
}

// deleteKeys batch-deletes keys, chunked at the S3 limit of 1000 objects
// per request.
func (b *Backend) deleteKeys(ctx context.Context, keys []string) error {
	const maxBatchSize = 1000

	for i := 0; i < len(keys); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, key := range keys[i:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}

		result, err := b.client.DeleteObjects(ctx, &awsS3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return storage.NewTransportError(b.id, "delete", 0, err)
		}
		for _, deleteErr := range result.Errors {
			return fmt.Errorf("delete %s: %s", aws.ToString(deleteErr.Key), aws.ToString(deleteErr.Message))
		}
	}
	return nil
}

// cleanETag strips the quotes S3 wraps around ETag values.
func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	return false
}
