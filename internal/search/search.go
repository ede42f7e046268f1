package search

import (
	"strings"

	"quire/api/internal/markup"
)

// DocumentRecord is the shape pushed to the search index. The access fields
// let the index pre-filter to what a user could open; callers still intersect
// results with the user's accessible set.
type DocumentRecord struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Text            string   `json:"text"`
	AuthorID        string   `json:"authorId"`
	IsPublic        bool     `json:"isPublic"`
	CollaboratorIDs []string `json:"collaboratorIds"`
	Tags            []string `json:"tags"`
	UpdatedAt       int64    `json:"updatedAt"`
}

// Matches reports whether query is a case-insensitive substring of the title
// or of the tag-stripped content. A blank query matches everything.
func Matches(title, content, query string) bool {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(title), needle) {
		return true
	}
	return strings.Contains(strings.ToLower(markup.StripTags(content)), needle)
}

// Filter keeps the items matching query, preserving input order. A blank
// query returns items unchanged.
func Filter[T any](items []T, query string, fields func(T) (title, content string)) []T {
	if strings.TrimSpace(query) == "" {
		return items
	}
	matched := make([]T, 0, len(items))
	for _, item := range items {
		title, content := fields(item)
		if Matches(title, content, query) {
			matched = append(matched, item)
		}
	}
	return matched
}

// Order sorts items so ids listed in ranked come first in ranked order; the
// rest keep their relative order.
func Order[T any](items []T, ranked []string, id func(T) string) []T {
	if len(ranked) == 0 {
		return items
	}
	position := make(map[string]int, len(ranked))
	for i, rid := range ranked {
		if _, ok := position[rid]; !ok {
			position[rid] = i
		}
	}
	head := make([]T, len(ranked))
	filled := make([]bool, len(ranked))
	tail := make([]T, 0, len(items))
	for _, item := range items {
		if pos, ok := position[id(item)]; ok && !filled[pos] {
			head[pos] = item
			filled[pos] = true
			continue
		}
		tail = append(tail, item)
	}
	out := make([]T, 0, len(items))
	for i, item := range head {
		if filled[i] {
			out = append(out, item)
		}
	}
	return append(out, tail...)
}
