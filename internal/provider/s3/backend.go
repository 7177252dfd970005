// Package s3 implements the S3-compatible provider (spec §1/§6, part of
// C3). Grounded on the teacher's internal/storage/s3.Backend
// (GetObject/PutObject/ListObjects/HeadObject over aws-sdk-go-v2),
// generalized from a whole-object Get/Put API to the provider.Provider
// range-read + whole-object-upload contract and stripped of the
// cargoship-based upload optimizer (see DESIGN.md for why that dependency
// was dropped).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// Config is the S3 provider's slice of the Repository config sub-object
// (spec §6: `internal/config` gains a Repository selector).
type Config struct {
	Bucket             string
	Region             string
	Endpoint           string
	AccessKeyID        string
	SecretAccessKey    string
	SessionToken       string
	ForcePathStyle     bool
	MaxRetries         int
	MultipartThreshold int64 // objects at or above this size upload via multipart
	PartSize           int64
}

// Provider adapts an S3-compatible bucket to provider.Provider.
type Provider struct {
	client *s3.Client
	cfg    Config
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 provider: bucket is required")
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = 64 << 20
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = 16 << 20
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 provider: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Provider{client: client, cfg: cfg}, nil
}

func (p *Provider) key(apiPath string) string {
	return strings.TrimPrefix(apiPath, "/")
}

func (p *Provider) List(ctx context.Context, apiPath string) ([]provider.ListEntry, apierr.Code) {
	prefix := p.key(apiPath)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, translateError(err)
	}

	entries := make([]provider.ListEntry, 0, len(out.Contents)+len(out.CommonPrefixes))
	for _, cp := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
		if name == "" {
			continue
		}
		entries = append(entries, provider.ListEntry{APIPath: "/" + strings.TrimPrefix(aws.ToString(cp.Prefix), "/"), Directory: true})
	}
	for _, obj := range out.Contents {
		k := aws.ToString(obj.Key)
		if k == prefix {
			continue
		}
		entries = append(entries, provider.ListEntry{APIPath: "/" + k, Directory: false})
	}
	return entries, apierr.Success
}

func (p *Provider) Head(ctx context.Context, apiPath string) (provider.ObjectAttrs, apierr.Code) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.key(apiPath)),
	})
	if err != nil {
		return provider.ObjectAttrs{}, translateError(err)
	}
	attrs := provider.ObjectAttrs{APIPath: apiPath, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		attrs.Modified = *out.LastModified
	}
	return attrs, apierr.Success
}

func (p *Provider) ReadRange(ctx context.Context, apiPath string, offset int64, buf []byte, stop provider.StopSignal) (int, apierr.Code) {
	if stop.Stopped() {
		return 0, apierr.DownloadStopped
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+int64(len(buf))-1)
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.key(apiPath)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return 0, translateError(err)
	}
	defer out.Body.Close()

	total := 0
	for total < len(buf) {
		if stop.Stopped() {
			return total, apierr.DownloadStopped
		}
		n, err := out.Body.Read(buf[total:])
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, apierr.DownloadFailed
		}
	}
	return total, apierr.Success
}

func (p *Provider) Upload(ctx context.Context, apiPath, sourcePath string, stop provider.StopSignal) apierr.Code {
	f, err := os.Open(sourcePath)
	if err != nil {
		return apierr.IoError
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apierr.IoError
	}

	if info.Size() >= p.cfg.MultipartThreshold {
		return p.uploadMultipart(ctx, apiPath, f, info.Size(), stop)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return apierr.IoError
	}
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(p.key(apiPath)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return translateError(err)
	}
	return apierr.Success
}

func (p *Provider) uploadMultipart(ctx context.Context, apiPath string, f io.ReaderAt, size int64, stop provider.StopSignal) apierr.Code {
	key := p.key(apiPath)
	created, err := p.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return translateError(err)
	}
	uploadID := aws.ToString(created.UploadId)
	state := NewMultipartUploadState(uploadID, p.cfg.Bucket, key, size, p.cfg.PartSize)

	for partNum := 1; partNum <= state.TotalParts; partNum++ {
		if stop.Stopped() {
			p.abortMultipart(ctx, key, uploadID)
			return apierr.UploadStopped
		}
		off := int64(partNum-1) * p.cfg.PartSize
		partSize := p.cfg.PartSize
		if off+partSize > size {
			partSize = size - off
		}
		buf := make([]byte, partSize)
		if _, err := f.ReadAt(buf, off); err != nil && err != io.EOF {
			p.abortMultipart(ctx, key, uploadID)
			return apierr.IoError
		}
		out, err := p.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(p.cfg.Bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(partNum)),
			Body:       bytes.NewReader(buf),
		})
		if err != nil {
			state.MarkPartFailed(partNum, err.Error())
			p.abortMultipart(ctx, key, uploadID)
			return translateError(err)
		}
		state.MarkPartCompleted(partNum, partSize, aws.ToString(out.ETag))
	}

	completed := state.CompletedPartsOrdered()
	parts := make([]s3types.CompletedPart, 0, len(completed))
	for _, cp := range completed {
		parts = append(parts, s3types.CompletedPart{
			ETag:       aws.String(cp.ETag),
			PartNumber: aws.Int32(int32(cp.PartNumber)),
		})
	}
	sort.Slice(parts, func(i, j int) bool { return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber) })

	_, err = p.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(p.cfg.Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		p.abortMultipart(ctx, key, uploadID)
		return translateError(err)
	}
	return apierr.Success
}

func (p *Provider) abortMultipart(ctx context.Context, key, uploadID string) {
	_, _ = p.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(p.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
}

func (p *Provider) Mkdir(ctx context.Context, apiPath string) apierr.Code {
	key := p.key(apiPath)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return translateError(err)
	}
	return apierr.Success
}

func (p *Provider) Rmdir(ctx context.Context, apiPath string) apierr.Code {
	key := p.key(apiPath)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return translateError(err)
	}
	return apierr.Success
}

// Rename copies the object under the new key and deletes the old one;
// S3 has no native rename, but copy+delete is cheap enough server-side
// that it is worth offering rather than declaring S3 non-renaming.
func (p *Provider) Rename(ctx context.Context, fromPath, toPath string) apierr.Code {
	fromKey := p.key(fromPath)
	toKey := p.key(toPath)
	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.cfg.Bucket),
		Key:        aws.String(toKey),
		CopySource: aws.String(p.cfg.Bucket + "/" + fromKey),
	})
	if err != nil {
		return translateError(err)
	}
	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(fromKey),
	})
	if err != nil {
		return translateError(err)
	}
	return apierr.Success
}

func (p *Provider) SupportsRename() bool { return true }

func translateError(err error) apierr.Code {
	var nf *s3types.NoSuchKey
	if errors.As(err, &nf) {
		return apierr.NotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return apierr.NotFound
		case "AccessDenied":
			return apierr.AccessDenied
		}
	}
	return apierr.CommError
}
