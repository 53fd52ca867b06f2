// Package s3 archives wallet sync results to AWS S3.
//
// Every sync writes one gzipped JSON object:
//
//	{prefix}/{chain}/{walletId}/{syncedAt}.json.gz
//
// where syncedAt is UTC with nanosecond precision, so keys sort
// chronologically. Objects are written with If-None-Match so a replayed sync
// never overwrites the first copy.
package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// s3API defines the subset of S3 operations needed by the Archive.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var (
	_ outbound.SnapshotArchive = (*Archive)(nil)
	_ outbound.SnapshotHistory = (*Archive)(nil)
)

// keyTimeFormat sorts lexically in time order.
const keyTimeFormat = "20060102T150405.000000000Z"

const keySuffix = ".json.gz"

// Config holds S3 archive configuration.
type Config struct {
	// Bucket receives the snapshots.
	Bucket string

	// Prefix is prepended to every key. Defaults to "balance-snapshots".
	Prefix string

	// Logger is the structured logger for the archive.
	Logger *slog.Logger
}

// Archive implements SnapshotArchive and SnapshotHistory on one bucket.
type Archive struct {
	client s3API
	config Config
	logger *slog.Logger
}

// NewArchive creates an archive using the given AWS config.
func NewArchive(cfg aws.Config, config Config, optFns ...func(*s3.Options)) (*Archive, error) {
	return newArchive(s3.NewFromConfig(cfg, optFns...), config)
}

func newArchive(client s3API, config Config) (*Archive, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if config.Prefix == "" {
		config.Prefix = "balance-snapshots"
	}
	config.Prefix = strings.Trim(config.Prefix, "/")
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Archive{
		client: client,
		config: config,
		logger: config.Logger.With("component", "s3-archive", "bucket", config.Bucket),
	}, nil
}

// walletPrefix is the key prefix holding one wallet's snapshots.
func (a *Archive) walletPrefix(chainCode, walletID string) string {
	return path.Join(a.config.Prefix, chainCode, walletID) + "/"
}

// Key returns the object key for a result.
func (a *Archive) Key(result *entity.AggregateResult) string {
	return a.walletPrefix(result.ChainCode, result.WalletID.String()) +
		result.SyncedAt.UTC().Format(keyTimeFormat) + keySuffix
}

// Archive writes result as gzipped JSON. An existing object is left untouched.
func (a *Archive) Archive(ctx context.Context, result *entity.AggregateResult) error {
	if result == nil {
		return errors.New("result is required")
	}
	if result.SyncedAt.IsZero() {
		return errors.New("result has no sync time")
	}

	key := a.Key(result)
	exists, err := a.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		a.logger.Debug("snapshot already archived", "key", key)
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	body, err := compress(data)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.config.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
		IfNoneMatch:     aws.String("*"),
	})
	if err != nil {
		// Lost a race with a concurrent writer of the same sync.
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("failed to write snapshot %s: %w", key, err)
	}

	a.logger.Debug("archived snapshot", "key", key, "bytes", len(body))
	return nil
}

func (a *Archive) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check snapshot %s: %w", key, err)
	}
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "PreconditionFailed" || apiErr.ErrorCode() == "412")
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// parseKeyTime extracts the sync time from a snapshot key.
func parseKeyTime(key string) (time.Time, bool) {
	name := path.Base(key)
	if !strings.HasSuffix(name, keySuffix) {
		return time.Time{}, false
	}
	t, err := time.Parse(keyTimeFormat, strings.TrimSuffix(name, keySuffix))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// readAll drains r and closes it.
func readAll(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}
