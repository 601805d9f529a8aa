package handlers

import (
	"context"

	"github.com/maruel/novelist/internal/errors"
	"github.com/maruel/novelist/internal/store"
)

// ChapterHandler handles book and chapter requests.
type ChapterHandler struct {
	store *store.Store
}

// NewChapterHandler creates a new chapter handler.
func NewChapterHandler(s *store.Store) *ChapterHandler {
	return &ChapterHandler{store: s}
}

// CreateBookRequest is a request to add a book to a novel.
type CreateBookRequest struct {
	ID     string `path:"id"`
	Remote bool   `query:"remote"`
	Name   string `json:"name"`
}

// CreateBook adds an empty book.
func (h *ChapterHandler) CreateBook(ctx context.Context, req CreateBookRequest) (*OKResponse, error) {
	if req.Name == "" {
		return nil, errors.MissingField("name")
	}
	if err := h.store.Backend(req.Remote).CreateBook(ctx, req.ID, req.Name); err != nil {
		return nil, err
	}
	return okResp, nil
}

// BookRequest addresses a book.
type BookRequest struct {
	ID     string `path:"id"`
	Book   string `path:"book"`
	Remote bool   `query:"remote"`
}

// DeleteBook deletes a book and its chapters.
func (h *ChapterHandler) DeleteBook(ctx context.Context, req BookRequest) (*OKResponse, error) {
	if err := h.store.Backend(req.Remote).DeleteBook(ctx, req.ID, req.Book); err != nil {
		return nil, err
	}
	return okResp, nil
}

// CreateChapterRequest is a request to add a chapter to a book.
type CreateChapterRequest struct {
	ID     string `path:"id"`
	Book   string `path:"book"`
	Remote bool   `query:"remote"`
	Name   string `json:"name"`
}

// CreateChapter adds an empty chapter. An existing chapter is left as is.
func (h *ChapterHandler) CreateChapter(ctx context.Context, req CreateChapterRequest) (*OKResponse, error) {
	if req.Name == "" {
		return nil, errors.MissingField("name")
	}
	if err := h.store.Backend(req.Remote).CreateChapter(ctx, req.ID, req.Book, req.Name); err != nil {
		return nil, err
	}
	return okResp, nil
}

// ChapterRequest addresses a chapter.
type ChapterRequest struct {
	ID      string `path:"id"`
	Book    string `path:"book"`
	Chapter string `path:"chapter"`
	Remote  bool   `query:"remote"`
}

// ChapterResponse holds a chapter's text.
type ChapterResponse struct {
	Content string `json:"content"`
}

// DeleteChapter deletes a chapter.
func (h *ChapterHandler) DeleteChapter(ctx context.Context, req ChapterRequest) (*OKResponse, error) {
	if err := h.store.Backend(req.Remote).DeleteChapter(ctx, req.ID, req.Book, req.Chapter); err != nil {
		return nil, err
	}
	return okResp, nil
}

// ReadChapter returns a chapter's text.
func (h *ChapterHandler) ReadChapter(ctx context.Context, req ChapterRequest) (*ChapterResponse, error) {
	text, err := h.store.Backend(req.Remote).ReadChapter(ctx, req.ID, req.Book, req.Chapter)
	if err != nil {
		return nil, err
	}
	return &ChapterResponse{Content: text}, nil
}

// WriteChapterRequest is a request to replace a chapter's text.
type WriteChapterRequest struct {
	ID      string `path:"id"`
	Book    string `path:"book"`
	Chapter string `path:"chapter"`
	Remote  bool   `query:"remote"`
	Content string `json:"content"`
}

// WriteChapter replaces a chapter's text, creating the chapter if needed.
func (h *ChapterHandler) WriteChapter(ctx context.Context, req WriteChapterRequest) (*OKResponse, error) {
	if err := h.store.Backend(req.Remote).WriteChapter(ctx, req.ID, req.Book, req.Chapter, req.Content); err != nil {
		return nil, err
	}
	return okResp, nil
}
