package testutil

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/agentstation/runnable"
)

// Double returns a lambda that doubles an int.
func Double(name string) *runnable.Lambda {
	return runnable.Func(name, func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	})
}

// Increment returns a lambda that adds one to an int.
func Increment(name string) *runnable.Lambda {
	return runnable.Func(name, func(_ context.Context, n int) (int, error) {
		return n + 1, nil
	})
}

// FakeModel is a scripted llms.Model. Replies are returned in order and the
// last one repeats. With no replies it echoes the last text it was sent.
// Streaming callers receive the reply one word at a time.
type FakeModel struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llms.MessageContent
	options []llms.CallOptions
}

var _ llms.Model = (*FakeModel)(nil)

// NewFakeModel creates a model that answers with replies.
func NewFakeModel(replies ...string) *FakeModel {
	return &FakeModel{replies: replies}
}

// Failing makes every call return err.
func (m *FakeModel) Failing(err error) *FakeModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// GenerateContent implements llms.Model.
func (m *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	call := len(m.calls)
	m.calls = append(m.calls, slices.Clone(messages))
	m.options = append(m.options, opts)
	err := m.err
	var reply string
	switch {
	case len(m.replies) == 0:
		reply = lastText(messages)
	case call < len(m.replies):
		reply = m.replies[call]
	default:
		reply = m.replies[len(m.replies)-1]
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(reply, " ") {
			if word == "" {
				continue
			}
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: reply, StopReason: "stop"}},
	}, nil
}

// Call implements llms.Model.
func (m *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Calls returns the messages of every call.
func (m *FakeModel) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Options returns the call options of every call.
func (m *FakeModel) Options() []llms.CallOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.options)
}

// Prompt returns the concatenated text parts sent in call i.
func (m *FakeModel) Prompt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.calls) {
		return ""
	}

	var sb strings.Builder
	for _, msg := range m.calls[i] {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				sb.WriteString(text.Text)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func lastText(messages []llms.MessageContent) string {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, part := range messages[i].Parts {
			if text, ok := part.(llms.TextContent); ok {
				return text.Text
			}
		}
	}
	return ""
}

// FakeVectorStore keeps documents in memory and ranks them by how many
// query words they contain.
type FakeVectorStore struct {
	mu   sync.Mutex
	docs []schema.Document
}

var _ vectorstores.VectorStore = (*FakeVectorStore)(nil)

// NewFakeVectorStore creates an empty store.
func NewFakeVectorStore() *FakeVectorStore {
	return &FakeVectorStore{}
}

// AddDocuments implements vectorstores.VectorStore.
func (s *FakeVectorStore) AddDocuments(_ context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = fmt.Sprintf("doc-%d", len(s.docs))
		s.docs = append(s.docs, doc)
	}
	return ids, nil
}

// SimilaritySearch implements vectorstores.VectorStore.
func (s *FakeVectorStore) SimilaritySearch(_ context.Context, query string, numDocuments int, _ ...vectorstores.Option) ([]schema.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	words := strings.Fields(strings.ToLower(query))
	type scored struct {
		doc   schema.Document
		score int
	}
	var hits []scored
	for _, doc := range s.docs {
		content := strings.ToLower(doc.PageContent)
		score := 0
		for _, w := range words {
			if strings.Contains(content, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{doc: doc, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	if numDocuments > 0 && len(hits) > numDocuments {
		hits = hits[:numDocuments]
	}
	docs := make([]schema.Document, len(hits))
	for i, h := range hits {
		docs[i] = h.doc
		docs[i].Score = float32(h.score) / float32(max(len(words), 1))
	}
	return docs, nil
}

// Documents returns every stored document.
func (s *FakeVectorStore) Documents() []schema.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.docs)
}
