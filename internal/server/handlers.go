package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/harryneopotter/teacher-website-public/internal/applications"
	"github.com/harryneopotter/teacher-website-public/internal/cache"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
	"github.com/harryneopotter/teacher-website-public/internal/storage"
)

// handleWebhook answers 200 for every update the bot accepted, including
// ones whose handling failed or that had no chat. Only an undecodable body,
// or an error returned by the handler, gets 500.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&update); err != nil {
		logger.Error("Error decoding webhook update", map[string]interface{}{
			"error": err.Error(),
		})
		s.recorder.IncrementMetric(r.Context(), consts.MetricErrors)
		http.Error(w, "Error processing update", http.StatusInternalServerError)
		return
	}

	// Processing must outlive a platform-side disconnect
	ctx := context.WithoutCancel(r.Context())
	if err := s.updates.HandleUpdate(ctx, update); err != nil {
		logger.Error("Error routing webhook update", map[string]interface{}{
			"error":     err.Error(),
			"update_id": update.UpdateID,
		})
		s.recorder.IncrementMetric(ctx, consts.MetricErrors)
		http.Error(w, "Error processing update", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	body := map[string]interface{}{
		"store":     s.store.Kind(),
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	if err := s.store.Ping(ctx); err != nil {
		logger.Error("Health check failed", map[string]interface{}{
			"error": err.Error(),
			"store": s.store.Kind(),
		})
		body["status"] = "error"
		body["error"] = err.Error()
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	body["status"] = "ok"
	writeJSON(w, http.StatusOK, body)
}

type showcaseResponse struct {
	Collections interface{} `json:"collections"`
	LastUpdated string      `json:"lastUpdated"`
	TotalItems  int         `json:"totalItems"`
	Fallback    bool        `json:"fallback,omitempty"`
}

type showcaseView struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Description   string `json:"description"`
	PDFObjectName string `json:"pdfObjectName"`
	PDFURL        string `json:"pdfUrl"`
	ThumbnailURL  string `json:"thumbnailUrl"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

func (s *Server) handleShowcase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lastUpdated := s.now().UTC().Format(time.RFC3339)

	items, err := s.store.ListPublishedShowcases(ctx, 0)
	if err != nil {
		logger.Error("Error fetching showcase data", map[string]interface{}{
			"error": err.Error(),
		})
		fallback := staticShowcase(s.now())
		writeJSON(w, http.StatusOK, showcaseResponse{
			Collections: fallback,
			LastUpdated: lastUpdated,
			TotalItems:  len(fallback),
			Fallback:    true,
		})
		return
	}

	views := s.showcaseViews(ctx, items)
	writeJSON(w, http.StatusOK, showcaseResponse{
		Collections: views,
		LastUpdated: lastUpdated,
		TotalItems:  len(views),
	})
}

// showcaseViews signs every document link concurrently. A failed signature
// leaves that item's pdfUrl empty.
func (s *Server) showcaseViews(ctx context.Context, items []*database.ShowcaseItem) []showcaseView {
	views := make([]showcaseView, len(items))

	var g errgroup.Group
	g.SetLimit(signConcurrency)
	for i, item := range items {
		views[i] = showcaseView{
			ID:            item.ID,
			Title:         item.Title,
			Author:        item.Author,
			Description:   item.Description,
			PDFObjectName: item.PDFObjectName,
			ThumbnailURL:  s.storage.NormalizeThumbnailURL(item.ThumbnailURL),
			Status:        item.Status,
			CreatedAt:     item.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:     item.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if item.PDFObjectName == "" {
			continue
		}

		name := item.PDFObjectName
		g.Go(func() error {
			signed, err := s.storage.GenerateSignedURL(ctx, name)
			if err != nil {
				logger.Error("Error generating signed URL", map[string]interface{}{
					"error":  err.Error(),
					"object": name,
				})
				return nil
			}
			views[i].PDFURL = signed
			return nil
		})
	}
	_ = g.Wait()
	return views
}

func (s *Server) handlePDFRedirect(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	signed, err := s.storage.SignedURLWithTTL(r.Context(), filename, consts.AssetRedirectTTL)
	if errors.Is(err, storage.ErrInvalidName) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Filename is required"})
		return
	}
	if err != nil {
		logger.Error("Error generating signed URL for PDF", map[string]interface{}{
			"error":    err.Error(),
			"filename": filename,
		})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to generate PDF URL"})
		return
	}
	http.Redirect(w, r, signed, http.StatusFound)
}

var thumbnailTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func thumbnailContentType(name string) string {
	if ct, ok := thumbnailTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return consts.ContentTypeJPEG
}

// validFilename accepts a single path element only.
func validFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return filepath.Base(name) == name
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if !validFilename(filename) {
		http.Error(w, "Thumbnail not found", http.StatusNotFound)
		return
	}

	entry, ok := s.thumbs.Get(filename)
	if !ok {
		data, err := os.ReadFile(filepath.Join(s.thumbDir, filename))
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "Thumbnail not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Error serving thumbnail", map[string]interface{}{
				"error":    err.Error(),
				"filename": filename,
			})
			http.Error(w, "Error serving thumbnail", http.StatusInternalServerError)
			return
		}
		entry = cache.Entry{Data: data, ContentType: thumbnailContentType(filename), ModTime: s.now()}
		s.thumbs.Set(filename, entry)
	}

	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Cache-Control", consts.ThumbnailMaxAge)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Data)
}

// handleFile serves objects of the offline store. Public objects need no
// token; private ones need a valid signed token for exactly that object.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, name := vars["bucket"], vars["name"]

	if !s.files.IsPublic(bucket, name) {
		if err := s.files.VerifyToken(r.URL.Query().Get("token"), bucket, name); err != nil {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	data, contentType, err := s.files.Read(r.Context(), bucket, name)
	if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidName) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("Error serving stored object", map[string]interface{}{
			"error":  err.Error(),
			"bucket": bucket,
			"object": name,
		})
		http.Error(w, "Error serving file", http.StatusInternalServerError)
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type applicationResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ApplicationID string `json:"applicationId,omitempty"`
}

func (s *Server) handleApplication(w http.ResponseWriter, r *http.Request) {
	if s.applications == nil {
		writeJSON(w, http.StatusServiceUnavailable, applicationResponse{Message: "Applications are not accepted right now."})
		return
	}

	var form applications.Form
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxApplicationBody)).Decode(&form); err != nil {
		writeJSON(w, http.StatusBadRequest, applicationResponse{Message: "Invalid request body"})
		return
	}

	id, err := s.applications.Submit(r.Context(), form, ClientIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, applicationResponse{
			Success:       true,
			Message:       "Application submitted successfully! The teacher will contact you soon.",
			ApplicationID: id,
		})
	case errors.Is(err, database.ErrInvalidRecord):
		writeJSON(w, http.StatusBadRequest, applicationResponse{Message: "Missing required fields"})
	case errors.Is(err, applications.ErrCaptchaRequired):
		writeJSON(w, http.StatusBadRequest, applicationResponse{Message: "CAPTCHA verification is required."})
	case errors.Is(err, applications.ErrCaptchaFailed):
		writeJSON(w, http.StatusBadRequest, applicationResponse{Message: "CAPTCHA verification failed. Please try again."})
	case errors.Is(err, applications.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, applicationResponse{Message: "Too many requests. Please try again later."})
	case errors.Is(err, applications.ErrLimiterUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, applicationResponse{Message: "Please try again later."})
	default:
		logger.Error("Error submitting application", map[string]interface{}{
			"error": err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, applicationResponse{Message: "Failed to submit application. Please try again."})
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return applications.UnknownIP
}
