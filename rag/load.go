// Package rag loads, splits and indexes documents, and builds nodes that
// answer questions from retrieved context.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"
)

// SourceKey is the metadata key holding a document's origin.
const SourceKey = "source"

// ErrFetch is returned when a URL answers with a non-2xx status.
var ErrFetch = errors.New("rag: fetch failed")

// Load reads src, a file path or an http(s) URL. HTML is reduced to its text;
// anything else is loaded as plain text.
func Load(ctx context.Context, src string) ([]schema.Document, error) {
	var (
		body io.ReadCloser
		html bool
		err  error
	)
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		body, html, err = fetch(ctx, src)
	} else {
		body, err = os.Open(src)
		ext := strings.ToLower(filepath.Ext(src))
		html = ext == ".html" || ext == ".htm"
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src, err)
	}
	defer body.Close()

	docs, err := loader(body, html).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src, err)
	}
	return withSource(docs, src), nil
}

func fetch(ctx context.Context, url string) (io.ReadCloser, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, false, fmt.Errorf("%w: %s", ErrFetch, resp.Status)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return resp.Body, mediaType == "text/html", nil
}

func loader(r io.Reader, html bool) documentloaders.Loader {
	if html {
		return documentloaders.NewHTML(r)
	}
	return documentloaders.NewText(r)
}

func withSource(docs []schema.Document, src string) []schema.Document {
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata[SourceKey] = src
	}
	return docs
}

// Split breaks docs into chunks of at most size characters with overlap
// characters shared between neighbors. Metadata is copied to every chunk.
func Split(docs []schema.Document, size, overlap int) ([]schema.Document, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("rag: invalid chunking size=%d overlap=%d", size, overlap)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)
	chunks, err := textsplitter.SplitDocuments(splitter, docs)
	if err != nil {
		return nil, fmt.Errorf("split documents: %w", err)
	}
	return chunks, nil
}

// Index adds docs to store and returns their IDs.
func Index(ctx context.Context, store vectorstores.VectorStore, docs []schema.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	ids, err := store.AddDocuments(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("index %d documents: %w", len(docs), err)
	}
	return ids, nil
}
