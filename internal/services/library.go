package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/shared"
)

// LibraryService fetches catalog metadata the sync core needs to download and
// play items.
type LibraryService interface {
	// FetchItem retrieves one library item's manifest.
	FetchItem(ctx context.Context, libraryItemID string) (*models.LibraryItem, error)
}

// ItemResponse is the wire shape of a library item manifest.
type ItemResponse struct {
	ID         string              `json:"id"`
	LibraryID  string              `json:"libraryId"`
	MediaID    string              `json:"mediaId"`
	Title      string              `json:"title"`
	Author     string              `json:"author"`
	Duration   float64             `json:"duration"`
	CoverPath  string              `json:"coverPath,omitempty"`
	AudioFiles []AudioFileResponse `json:"audioFiles"`
}

// AudioFileResponse is one audio file within an item manifest.
type AudioFileResponse struct {
	ID      string `json:"id"`
	Index   int    `json:"index"`
	RelPath string `json:"relPath"`
	Size    int64  `json:"size"`
}

// FetchItem retrieves one library item's manifest.
func (c *ProgressClient) FetchItem(ctx context.Context, libraryItemID string) (*models.LibraryItem, error) {
	endpoint := fmt.Sprintf("/api/items/%s", libraryItemID)

	var resp ItemResponse
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		if errors.Is(err, shared.ErrServerSessionGone) {
			return nil, fmt.Errorf("%w: %s", shared.ErrItemNotFound, libraryItemID)
		}
		return nil, err
	}
	return resp.ToModel(), nil
}

// ToModel converts a wire item manifest into the local shape.
func (r *ItemResponse) ToModel() *models.LibraryItem {
	item := &models.LibraryItem{
		ID:        r.ID,
		LibraryID: r.LibraryID,
		MediaID:   r.MediaID,
		Title:     r.Title,
		Author:    r.Author,
		Duration:  r.Duration,
		CoverPath: r.CoverPath,
	}
	for _, f := range r.AudioFiles {
		item.Files = append(item.Files, models.AudioFile{
			ID:      f.ID,
			Index:   f.Index,
			RelPath: f.RelPath,
			Size:    f.Size,
		})
	}
	return item
}
