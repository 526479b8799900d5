package server

import (
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
)

// fallbackItem mirrors the static entries shipped with the public site.
type fallbackItem struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	PDFURL        string `json:"pdfUrl"`
	ThumbnailURL  string `json:"thumbnailUrl"`
	PublishedDate string `json:"publishedDate"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
}

// staticShowcase is served when the store cannot be read.
func staticShowcase(now time.Time) []fallbackItem {
	created := now.UTC().Format(time.RFC3339)
	return []fallbackItem{
		{
			ID:            1,
			Title:         "Student Work A",
			Author:        "Student A",
			Type:          "Creative Writing Collection",
			Description:   "A creative writing collection showcasing imaginative storytelling and expression.",
			PDFURL:        "/pdfs/student-a-portfolio.pdf",
			ThumbnailURL:  "/thumbnails/student-a-portfolio.jpg",
			PublishedDate: "August 2024",
			Status:        consts.StatusPublished,
			CreatedAt:     created,
		},
		{
			ID:            2,
			Title:         "Student Work B",
			Author:        "Student B",
			Type:          "Poetry Collection",
			Description:   "A collection of original poems exploring themes of nature and imagination.",
			PDFURL:        "/pdfs/student-b-portfolio.pdf",
			ThumbnailURL:  "/thumbnails/student-b-portfolio.jpg",
			PublishedDate: "August 2024",
			Status:        consts.StatusPublished,
			CreatedAt:     created,
		},
		{
			ID:            3,
			Title:         "Student Work C",
			Author:        "Student C",
			Type:          "Poetry Collection",
			Description:   "An inspiring portfolio showcasing creative expression and developing poetic voice.",
			PDFURL:        "/pdfs/student-c-portfolio.pdf",
			ThumbnailURL:  "/thumbnails/student-c-portfolio.jpg",
			PublishedDate: "August 2024",
			Status:        consts.StatusPublished,
			CreatedAt:     created,
		},
	}
}
