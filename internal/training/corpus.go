// Package training fits classification models from a labeled CSV corpus.
package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/mikey/mail-risk/internal/ml"
)

const rowKeyTextPrefix = 80

// Row is one corpus record keyed by lowercase header name
type Row map[string]string

// CorpusStats counts what a pass over the corpus saw
type CorpusStats struct {
	Rows      int
	Malformed int
}

// ReadCorpus streams every record of a CSV corpus to fn.
// Malformed records are counted and skipped; an error from fn stops the pass.
func ReadCorpus(r io.Reader, fn func(Row) error) (CorpusStats, error) {
	var stats CorpusStats

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to read corpus header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		columns[i] = strings.ToLower(strings.TrimSpace(h))
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				stats.Malformed++
				continue
			}
			return stats, fmt.Errorf("failed to read corpus: %w", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		stats.Rows++
		if err := fn(row); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Label returns the binary spam label of the row
func (r Row) Label() (spam bool, ok bool) {
	raw, found := r["label"]
	if !found {
		raw, found = r["spam/ham"]
	}
	if !found {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "spam", "1", "true", "yes":
		return true, true
	case "ham", "0", "false", "no":
		return false, true
	default:
		return false, false
	}
}

// Text returns the message text of the row
func (r Row) Text() string {
	if t := r["text"]; strings.TrimSpace(t) != "" {
		return t
	}
	return ml.CombineText(r["subject"], r["message"])
}

// ID returns the record identifier, if the corpus has one
func (r Row) ID() string {
	if id := r["file"]; id != "" {
		return id
	}
	return r["message id"]
}

// Key is the stable content key used to split the corpus
func (r Row) Key() string {
	text := r.Text()
	if utf8.RuneCountInString(text) > rowKeyTextPrefix {
		text = string([]rune(text)[:rowKeyTextPrefix])
	}
	return r.ID() + "|" + text
}
