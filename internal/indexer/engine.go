package indexer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/logger"
)

// Engine holds the corpus and its inverted index. It is immutable once
// returned by Build or Load and may be shared between goroutines freely.
type Engine struct {
	lines       []string
	index       *index.MemoryIndex
	fingerprint uint64
	logger      *slog.Logger
}

// Build reads the corpus at path and indexes it.
func Build(path string) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus %s: %w", path, err)
	}
	defer f.Close()

	e, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("loading corpus %s: %w", path, err)
	}
	e.logger.Info("corpus indexed",
		"path", path,
		"lines", e.LineCount(),
		"terms", e.TermCount(),
	)
	return e, nil
}

// Load indexes every line read from r. Lines may be of any length; the
// trailing "\n" or "\r\n" is not part of the stored line.
func Load(r io.Reader) (*Engine, error) {
	reader := bufio.NewReader(r)
	builder := index.NewBuilder()
	lines := make([]string, 0, 1024)
	digest := xxhash.New()

	for {
		raw, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading line %d: %w", len(lines), err)
		}
		if raw == "" && err != nil {
			break
		}
		_, _ = digest.WriteString(raw)
		line := trimLineTerminator(raw)
		if addErr := builder.Add(len(lines), tokenizer.Tokenize(line)); addErr != nil {
			return nil, fmt.Errorf("indexing line %d: %w", len(lines), addErr)
		}
		lines = append(lines, line)
		if err != nil {
			break
		}
	}

	return &Engine{
		lines:       lines,
		index:       builder.Build(),
		fingerprint: digest.Sum64(),
		logger:      slog.Default().With("component", "indexer"),
	}, nil
}

func trimLineTerminator(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// Search returns, in ascending order, the lines that contain every term of
// query. A query with no terms, or with any term absent from the corpus,
// matches nothing.
func (e *Engine) Search(query string) []int {
	terms := tokenizer.Tokenize(query)
	e.logger.Debug("search", "query", query)
	e.logger.Log(context.Background(), logger.LevelTrace, "parsed query terms", "terms", terms)
	results := e.index.Intersect(terms)
	e.logger.Debug("search complete", "query", query, "hits", len(results))
	return results
}

// Fetch returns the text of the given zero-based line. The boolean is false
// when line is outside the corpus.
func (e *Engine) Fetch(line int) (string, bool) {
	if line < 0 || line >= len(e.lines) {
		e.logger.Debug("line out of bounds", "line", line, "line_count", len(e.lines))
		return "", false
	}
	e.logger.Log(context.Background(), logger.LevelTrace, "fetched line", "line", line, "text", e.lines[line])
	return e.lines[line], true
}

// Terms returns the normalised terms of query in the form used for lookup.
func (e *Engine) Terms(query string) []string {
	return tokenizer.Tokenize(query)
}

// LineCount returns the number of lines in the corpus.
func (e *Engine) LineCount() int {
	return len(e.lines)
}

// Fingerprint is an xxhash of the raw corpus bytes. Two engines built from
// identical input share a fingerprint.
func (e *Engine) Fingerprint() uint64 {
	return e.fingerprint
}

// TermCount returns the number of distinct indexed terms.
func (e *Engine) TermCount() int {
	return e.index.Terms()
}
