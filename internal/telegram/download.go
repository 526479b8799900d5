package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/harryneopotter/teacher-website-public/internal/file"
)

// Downloader fetches file bytes from a direct link.
type Downloader interface {
	Download(ctx context.Context, link string) ([]byte, error)
}

type restyDownloader struct {
	client  *resty.Client
	maxSize int
}

func NewDownloader(timeout time.Duration) Downloader {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond)
	return &restyDownloader{client: client, maxSize: file.MaxDocumentSize}
}

func (d *restyDownloader) Download(ctx context.Context, link string) ([]byte, error) {
	resp, err := d.client.R().SetContext(ctx).Get(link)
	if err != nil {
		// The link embeds the bot token, so it is never part of the error
		return nil, fmt.Errorf("failed to download file: %w", redactURLError(err))
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to download file: %s", resp.Status())
	}
	body := resp.Body()
	if len(body) > d.maxSize {
		return nil, fmt.Errorf("file is larger than %d MB", d.maxSize>>20)
	}
	return body, nil
}

func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
