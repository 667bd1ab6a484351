package domain

import "time"

// Document is a legal text in the corpus. Structural counts are filled in by
// the upstream analysis pipeline; Analyzed reports whether that has happened.
type Document struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	CaseID        string    `json:"case_id,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	TotalArticles int       `json:"total_articles"`
	TotalChapters int       `json:"total_chapters"`
	TotalSections int       `json:"total_sections"`
	Analyzed      bool      `json:"analyzed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Article is one numbered article of a document.
type Article struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Number     string `json:"number"`
	Heading    string `json:"heading,omitempty"`
	Content    string `json:"content"`
}

// Passage is a retrievable chunk of a document's text.
type Passage struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Position   int    `json:"position"`
	Content    string `json:"content"`
}
