// Package archive copies generated videos into an S3 compatible bucket so they
// outlive the generation API's own retention.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// sniffLen is the amount of data mimetype needs for video containers.
const sniffLen = 3072

var ErrNotVideo = errors.New("content is not a video")

// Putter uploads objects. *manager.Uploader satisfies it.
type Putter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type Archiver struct {
	putter Putter
	bucket *string
	http   *http.Client
}

func New(putter Putter, bucket string) *Archiver {
	return &Archiver{
		putter: putter,
		bucket: aws.String(bucket),
		http:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// NewFromClient wraps client in a multipart uploader.
func NewFromClient(client *s3.Client, bucket string) *Archiver {
	return New(manager.NewUploader(client, func(u *manager.Uploader) {
		u.Concurrency = 5
		u.PartSize = 6 << 20
	}), bucket)
}

// Archive downloads the video at src and stores it under a key derived from
// userID and taskID. The key is returned.
func (a *Archiver) Archive(ctx context.Context, userID, taskID, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request, %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download video, %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download video, status %d", resp.StatusCode)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read video, %w", err)
	}
	head = head[:n]

	mime := mimetype.Detect(head)
	if !strings.HasPrefix(mime.String(), "video/") {
		return "", fmt.Errorf("%w, got %s", ErrNotVideo, mime.String())
	}

	key := fmt.Sprintf("videos/%s/%s%s", userID, taskID, mime.Extension())

	_, err = a.putter.Upload(ctx, &s3.PutObjectInput{
		Bucket:       a.bucket,
		Key:          aws.String(key),
		Body:         io.MultiReader(bytes.NewReader(head), resp.Body),
		ContentType:  aws.String(mime.String()),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload video, %w", err)
	}

	zap.L().Debug("Archived video", zap.String("key", key), zap.String("userID", userID))
	return key, nil
}
