package store

import (
	"slices"
	"strings"

	"github.com/maruel/novelist/internal/models"
)

const (
	// MainBook is the mandatory book of every novel.
	MainBook = "Main"
	// SynopsisChapter is the chapter of MainBook holding the synopsis.
	SynopsisChapter = "Synopsis"
	// IntroChapter replaces SynopsisChapter on remote novels lacking one.
	IntroChapter = "Intro"
	// DefaultCover is the cover of novels without an image.
	DefaultCover = "/images/default-cover.svg"
)

// CountWords returns the number of whitespace separated tokens in text.
//
// This is the only word counting algorithm of the application.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// BookListing is the content of one book as listed by a backend.
type BookListing struct {
	Name     string
	Chapters []string
}

// Stats summarizes a novel's tree.
type Stats struct {
	WordCount    int
	BookCount    int
	ChapterCount int
	Books        map[string]int // words per book
}

// Aggregate computes the word, book and chapter counts of a novel.
//
// A book without chapters still counts as a book.
func Aggregate(books []BookListing) Stats {
	s := Stats{BookCount: len(books), Books: make(map[string]int, len(books))}
	for _, b := range books {
		words := 0
		for _, text := range b.Chapters {
			words += CountWords(text)
		}
		s.Books[b.Name] += words
		s.WordCount += words
		s.ChapterCount += len(b.Chapters)
	}
	return s
}

// sortChapters puts lead first, then orders by name.
func sortChapters(chapters []models.Chapter, lead string) {
	slices.SortStableFunc(chapters, func(a, b models.Chapter) int {
		if (a.Name == lead) != (b.Name == lead) {
			if a.Name == lead {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
}

// sortBooks puts MainBook first, then orders by name.
func sortBooks(books []models.Book) {
	slices.SortStableFunc(books, func(a, b models.Book) int {
		if (a.Name == MainBook) != (b.Name == MainBook) {
			if a.Name == MainBook {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
}
