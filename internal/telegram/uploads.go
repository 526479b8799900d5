package telegram

import (
	"context"
	"fmt"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/file"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
	"github.com/harryneopotter/teacher-website-public/internal/ratelimit"
)

// gate runs limiter for key and answers the user when the call is not
// permitted.
func (b *Bot) gate(ctx context.Context, req *request, limiter *ratelimit.Limiter, key, refusedTemplate string) bool {
	ok, result := limiter.Allow(ctx, key)
	if ok {
		return true
	}

	if result.Outcome == ratelimit.Refused {
		logger.Info("Upload refused by rate limiter", map[string]interface{}{
			"limiter":     limiter.Name(),
			"user_id":     req.userID,
			"retry_after": result.RetryAfter.String(),
		})
		b.notifier.Plain(ctx, req.chatID, fmt.Sprintf(refusedTemplate, retrySeconds(result.RetryAfter)))
		b.recorder.IncrementMetric(ctx, consts.MetricRateLimitHits)
		return false
	}

	b.notifier.Plain(ctx, req.chatID, LimiterUnavailableMessage)
	return false
}

func isPDFDocument(doc *tgbotapi.Document) bool {
	if strings.EqualFold(doc.MimeType, consts.ContentTypePDF) {
		return true
	}
	return strings.EqualFold(path.Ext(doc.FileName), ".pdf")
}

// handleDocument downloads, stores and registers an uploaded PDF. Nothing is
// recorded for the user unless every step succeeds.
func (b *Bot) handleDocument(ctx context.Context, req *request) error {
	doc := req.msg.Document

	if !isPDFDocument(doc) {
		b.notifier.Plain(ctx, req.chatID, NotAPDFMessage)
		return nil
	}
	if doc.FileSize > file.MaxDocumentSize {
		b.notifier.Plain(ctx, req.chatID, FileTooLargeMessage)
		return nil
	}
	if !b.gate(ctx, req, b.docLimiter, ratelimit.DocumentKey(req.userID), RateLimitedTemplate) {
		return nil
	}

	logger.Info("Processing PDF for user", map[string]interface{}{
		"user_id":   req.userID,
		"file_name": doc.FileName,
		"mime_type": doc.MimeType,
		"file_size": doc.FileSize,
	})
	b.notifier.Plain(ctx, req.chatID, ProcessingPDFMessage)

	objectName, pages, err := b.storeDocument(ctx, doc)
	if err != nil {
		logger.Error("Error handling document", map[string]interface{}{
			"error":   err.Error(),
			"user_id": req.userID,
		})
		b.notifier.Plain(ctx, req.chatID, fmt.Sprintf(PDFErrorTemplate, err.Error()))
		b.recorder.IncrementMetric(ctx, consts.MetricErrors)
		return nil
	}

	if err := b.machine.Begin(ctx, req.userID, objectName); err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}

	b.notifier.Plain(ctx, req.chatID, PDFUploadedMessage)
	b.notifier.Plain(ctx, req.chatID, uploadedFileMessage(objectName, pages))
	b.notifier.Plain(ctx, req.chatID, AskTitleMessage)
	b.recorder.IncrementMetric(ctx, consts.MetricPDFUploads)
	return nil
}

func (b *Bot) storeDocument(ctx context.Context, doc *tgbotapi.Document) (string, int, error) {
	data, err := b.fetch(ctx, doc.FileID)
	if err != nil {
		return "", 0, err
	}
	if !file.LooksLikePDF(data) {
		return "", 0, fmt.Errorf("file is not a valid PDF")
	}

	pages, err := file.CountPages(data)
	if err != nil {
		// Informational only; some valid files trip the parser
		logger.Warn("Could not read PDF page count", map[string]interface{}{
			"error": err.Error(),
		})
		pages = 0
	}

	name := b.namer.DocumentName(doc.FileName)
	if _, err := b.storage.UploadFile(ctx, data, name, b.storage.PDFBucket(), consts.ContentTypePDF); err != nil {
		return "", 0, err
	}
	return name, pages, nil
}

func largestPhoto(photos []tgbotapi.PhotoSize) (tgbotapi.PhotoSize, bool) {
	if len(photos) == 0 {
		return tgbotapi.PhotoSize{}, false
	}
	best := photos[len(photos)-1]
	for _, p := range photos {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best, true
}

// handlePhoto stores a thumbnail and links it to the user's committed record
// when there is one.
func (b *Bot) handlePhoto(ctx context.Context, req *request) error {
	if !b.gate(ctx, req, b.thumbLimiter, ratelimit.ThumbnailKey(req.userID), ThumbRateLimitTemplate) {
		return nil
	}

	photo, ok := largestPhoto(req.msg.Photo)
	if !ok {
		b.notifier.Plain(ctx, req.chatID, NoPhotoMessage)
		return nil
	}

	b.notifier.Plain(ctx, req.chatID, ProcessingThumbnailMessage)

	thumbnailURL, err := b.storeThumbnail(ctx, photo)
	if err != nil {
		logger.Error("Error handling photo", map[string]interface{}{
			"error":   err.Error(),
			"user_id": req.userID,
		})
		b.notifier.Plain(ctx, req.chatID, fmt.Sprintf(PhotoErrorTemplate, err.Error()))
		b.recorder.IncrementMetric(ctx, consts.MetricErrors)
		return nil
	}

	linked, err := b.machine.AttachThumbnail(ctx, req.userID, thumbnailURL)
	if err != nil {
		logger.Error("Error linking thumbnail", map[string]interface{}{
			"error":   err.Error(),
			"user_id": req.userID,
			"url":     thumbnailURL,
		})
		b.notifier.Plain(ctx, req.chatID, fmt.Sprintf(PhotoErrorTemplate, "could not link the thumbnail"))
		b.recorder.IncrementMetric(ctx, consts.MetricErrors)
		return nil
	}

	b.recorder.IncrementMetric(ctx, consts.MetricThumbnailUploads)
	if linked {
		b.notifier.Plain(ctx, req.chatID, ThumbnailLinkedMessage)
		b.notifier.Plain(ctx, req.chatID, AllDoneMessage)
		return nil
	}
	b.notifier.Plain(ctx, req.chatID, ThumbnailUploadedMessage)
	return nil
}

func (b *Bot) storeThumbnail(ctx context.Context, photo tgbotapi.PhotoSize) (string, error) {
	data, err := b.fetch(ctx, photo.FileID)
	if err != nil {
		return "", err
	}
	name := b.namer.ThumbnailName()
	return b.storage.UploadFile(ctx, data, name, b.storage.ThumbnailBucket(), consts.ContentTypeJPEG)
}

func (b *Bot) fetch(ctx context.Context, fileID string) ([]byte, error) {
	link, err := b.messenger.FileURL(ctx, fileID)
	if err != nil {
		return nil, err
	}
	data, err := b.downloader.Download(ctx, link)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("downloaded file is empty")
	}
	return data, nil
}
