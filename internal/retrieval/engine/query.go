package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"retrievald/internal/filestore"
	"retrievald/internal/logging"
	"retrievald/internal/retrieval"
)

const (
	defaultSuggestLimit = 10
	maxSuggestLimit     = 100
	// Candidates fetched per requested suggestion before ranking.
	candidateFactor = 4
)

// Suggest ranks indexed items whose names contain the query: exact name
// matches first, then prefix matches, then other substring matches.
func (e *Engine) Suggest(ctx context.Context, req retrieval.SuggestRequest) ([]retrieval.Suggestion, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", retrieval.ErrInvalidRequest)
	}
	limit := clampLimit(req.Limit)

	items, err := e.store.searchItems(ctx, query, limit*candidateFactor)
	if err != nil {
		return nil, err
	}
	suggestions := make([]retrieval.Suggestion, 0, len(items))
	for _, it := range items {
		suggestions = append(suggestions, retrieval.Suggestion{
			ItemID:   it.ID,
			Name:     it.Name,
			Path:     it.Path,
			MimeType: it.MimeType,
			Score:    matchScore(it.Name, query),
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// CreateContextPack bundles excerpts for explicit item ids, or for the top
// suggestions of a query when no ids are given.
func (e *Engine) CreateContextPack(ctx context.Context, req retrieval.ContextPackRequest) (*retrieval.ContextPack, error) {
	var items []item
	switch {
	case len(req.ItemIDs) > 0:
		for _, id := range req.ItemIDs {
			it, err := e.store.getItem(ctx, strings.TrimSpace(id))
			if err != nil {
				return nil, err
			}
			items = append(items, *it)
		}
	case strings.TrimSpace(req.Query) != "":
		suggestions, err := e.Suggest(ctx, retrieval.SuggestRequest{Query: req.Query, Limit: req.Limit})
		if err != nil {
			return nil, err
		}
		for _, suggestion := range suggestions {
			it, err := e.store.getItem(ctx, suggestion.ItemID)
			if err != nil {
				return nil, err
			}
			items = append(items, *it)
		}
	default:
		return nil, fmt.Errorf("%w: query or itemIds is required", retrieval.ErrInvalidRequest)
	}

	pack := &retrieval.ContextPack{
		ID:        uuid.NewString(),
		Query:     strings.TrimSpace(req.Query),
		CreatedAt: time.Now().UTC(),
		Items:     make([]retrieval.ContextItem, 0, len(items)),
	}
	for _, it := range items {
		entry := retrieval.ContextItem{
			ItemID:   it.ID,
			Name:     it.Name,
			Path:     it.Path,
			MimeType: it.MimeType,
			Size:     it.Size,
		}
		if filestore.IsText(it.MimeType) {
			entry.Excerpt, entry.Truncated = e.readExcerpt(it.Path)
		}
		pack.Items = append(pack.Items, entry)
	}
	return pack, nil
}

// Preview returns item metadata plus the head of text files.
func (e *Engine) Preview(ctx context.Context, itemID string) (*retrieval.Preview, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("%w: itemId is required", retrieval.ErrInvalidRequest)
	}
	it, err := e.store.getItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	preview := &retrieval.Preview{
		ItemID:     it.ID,
		Name:       it.Name,
		Path:       it.Path,
		MimeType:   it.MimeType,
		Size:       it.Size,
		ModifiedAt: it.ModifiedAt,
	}
	if filestore.IsText(it.MimeType) {
		preview.Text, preview.Truncated = e.readExcerpt(it.Path)
	}
	return preview, nil
}

// readExcerpt returns up to previewBytes of valid UTF-8 from path. A file
// that disappeared since indexing yields no text.
func (e *Engine) readExcerpt(path string) (string, bool) {
	text, truncated, err := readHead(path, e.previewBytes)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.logger.Debug("read excerpt failed", logging.String("path", path), logging.Error(err))
		}
		return "", false
	}
	return text, truncated
}

func readHead(path string, limit int) (string, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer file.Close()

	buf, err := io.ReadAll(io.LimitReader(file, int64(limit)+1))
	if err != nil {
		return "", false, err
	}
	truncated := len(buf) > limit
	if truncated {
		buf = buf[:limit]
	}
	return strings.ToValidUTF8(string(buf), ""), truncated, nil
}

func matchScore(name, query string) float64 {
	lowerName := strings.ToLower(name)
	lowerQuery := strings.ToLower(query)
	switch {
	case lowerName == lowerQuery:
		return 1
	case strings.HasPrefix(lowerName, lowerQuery):
		return 0.75
	default:
		return 0.5
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultSuggestLimit
	case limit > maxSuggestLimit:
		return maxSuggestLimit
	default:
		return limit
	}
}
