// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/sgreports-dev/sgreports/internal/store"
)

// NoTextPlaceholder stands in for a document body that was never extracted.
const NoTextPlaceholder = "[No text content available]"

// DocumentPayload is the read_document result.
type DocumentPayload struct {
	Symbol          string   `json:"symbol"`
	ProperTitle     string   `json:"proper_title"`
	Title           string   `json:"title"`
	UNBody          string   `json:"un_body"`
	DateYear        *int     `json:"date_year"`
	PublicationDate string   `json:"publication_date"`
	SubjectTerms    []string `json:"subject_terms"`
	AgendaItemTitle string   `json:"agenda_item_title"`
	WordCount       *int     `json:"word_count"`
	Text            string   `json:"text"`
	Truncated       bool     `json:"truncated,omitempty"`
}

func (e *Executor) readDocument(ctx context.Context, args map[string]any) Result {
	symbol := strings.TrimSpace(stringArg(args, "symbol"))

	doc, err := e.documents.GetDocument(ctx, symbol)
	if errors.Is(err, store.ErrNotFound) {
		return Failedf("Document not found: %s", symbol)
	}
	if err != nil {
		e.logger.Error("document lookup failed", "symbol", symbol, "error", err)
		return Failedf("Failed to read document %s: %v", symbol, err)
	}

	payload := DocumentPayload{
		Symbol:          doc.Symbol,
		ProperTitle:     doc.ProperTitle,
		Title:           doc.Title,
		UNBody:          doc.UNBody,
		DateYear:        doc.DateYear,
		PublicationDate: doc.PublicationDate,
		SubjectTerms:    doc.SubjectTerms,
		AgendaItemTitle: doc.AgendaItemTitle,
		WordCount:       doc.WordCount,
		Text:            NoTextPlaceholder,
	}
	if payload.SubjectTerms == nil {
		payload.SubjectTerms = []string{}
	}
	if doc.Text != nil && *doc.Text != "" {
		payload.Text, payload.Truncated = truncate(*doc.Text, e.maxChars)
	}
	return Succeeded(payload)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
