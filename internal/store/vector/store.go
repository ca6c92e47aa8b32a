// Package vector wraps philippgille/chromem-go as the embedding store behind
// the three namespaces spec.md §6 requires: note_descriptions,
// webpage_content, and episodic_memory. The teacher declares chromem-go in
// go.mod as its vector-memory backend but never wires a concrete collection;
// this package is the wiring the teacher's embedding.go anticipates.
package vector

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// Namespace identifies one of the three embedding collections this service
// maintains.
type Namespace string

const (
	NamespaceNoteDescriptions Namespace = "note_descriptions"
	NamespaceWebpageContent   Namespace = "webpage_content"
	NamespaceEpisodicMemory   Namespace = "episodic_memory"
)

// EmbedFunc embeds a single document for storage or query.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Match is one similarity search result.
type Match struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Store is a chromem-go backed embedding store, persisted to a single file so
// restarts keep prior embeddings.
type Store struct {
	db          *chromem.DB
	collections map[Namespace]*chromem.Collection
	embed       EmbedFunc
}

// Open opens (creating if necessary) a persistent chromem-go database at
// path and prepares the three fixed namespaces.
func Open(path string, embed EmbedFunc) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open vector store at %s: %w", path, err)
	}

	s := &Store{db: db, collections: make(map[Namespace]*chromem.Collection), embed: embed}
	for _, ns := range []Namespace{NamespaceNoteDescriptions, NamespaceWebpageContent, NamespaceEpisodicMemory} {
		col, err := db.GetOrCreateCollection(string(ns), nil, chromemEmbeddingFunc(embed))
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", ns, err)
		}
		s.collections[ns] = col
	}
	return s, nil
}

// Upsert stores (or replaces) a document under id in namespace.
func (s *Store) Upsert(ctx context.Context, ns Namespace, id, content string, metadata map[string]string) error {
	col, err := s.collectionFor(ns)
	if err != nil {
		return err
	}
	doc, err := chromem.NewDocument(ctx, id, metadata, nil, content, chromemEmbeddingFunc(s.embed))
	if err != nil {
		return fmt.Errorf("build document %s/%s: %w", ns, id, err)
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", ns, id, err)
	}
	return nil
}

// Query returns the topK most similar documents to queryText in namespace.
func (s *Store) Query(ctx context.Context, ns Namespace, queryText string, topK int) ([]Match, error) {
	col, err := s.collectionFor(ns)
	if err != nil {
		return nil, err
	}
	if n := col.Count(); n < topK {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, queryText, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", ns, err)
	}

	out := make([]Match, 0, len(results))
	for _, r := range results {
		out = append(out, Match{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Similarity: r.Similarity})
	}
	return out, nil
}

// Delete removes a document from namespace by id.
func (s *Store) Delete(ctx context.Context, ns Namespace, id string) error {
	col, err := s.collectionFor(ns)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", ns, id, err)
	}
	return nil
}

func (s *Store) collectionFor(ns Namespace) (*chromem.Collection, error) {
	col, ok := s.collections[ns]
	if !ok {
		return nil, fmt.Errorf("unknown vector namespace %q", ns)
	}
	return col, nil
}

func chromemEmbeddingFunc(embed EmbedFunc) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embed(ctx, text)
	}
}
