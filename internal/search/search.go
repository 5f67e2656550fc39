// Package search finds the direct-hit set for item searches. The caller
// widens hits to full subtrees through the tree query engine, so both
// backends agree on result semantics.
package search

import "context"

// Query describes one search request. Text is a free-text query matched
// against name and description as substrings and against the qr code
// exactly; the field predicates constrain a single field each. An entirely
// empty query matches nothing, never everything.
type Query struct {
	Text        string
	Name        string
	Description string
	QRCode      string
	Limit       int
}

// Empty reports whether no predicate was supplied.
func (q Query) Empty() bool {
	return q.Text == "" && q.Name == "" && q.Description == "" && q.QRCode == ""
}

// ItemRecord is the data indexed per item.
type ItemRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	QRCode      string `json:"qrCode"`
}

// Indexer pushes item records into a search index.
type Indexer interface {
	IndexItem(item ItemRecord) error
	DeleteItem(id string) error
	IndexItems(items []ItemRecord) error
}

// Fallback evaluates the search predicate against the primary store when
// Meilisearch is unavailable, returning matching item ids.
type Fallback interface {
	FindDirectIDs(ctx context.Context, name, description, qrCode string) ([]string, error)
}
