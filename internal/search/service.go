package search

import (
	"context"
	"log"
)

// Service resolves the direct-hit phase of a search: Meilisearch first for
// free-text queries, the store predicate otherwise or on failure. meili may
// be nil when Meilisearch is not configured.
type Service struct {
	meili    *Meili
	fallback Fallback
}

func NewService(meili *Meili, fallback Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// DirectHits returns ids of items matching the query predicate. Field
// predicates always evaluate against the store: Meilisearch ranks by
// relevance across fields and cannot express a single-field exact filter
// the way the store can.
func (s *Service) DirectHits(ctx context.Context, q Query) ([]string, error) {
	if q.Empty() {
		return []string{}, nil
	}

	if q.Text != "" && s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.Search(q.Text, q.Limit)
		if err == nil {
			return ids, nil
		}
		log.Printf("search: meilisearch error, falling back to store: %v", err)
	}

	if q.Text != "" {
		return s.fallback.FindDirectIDs(ctx, q.Text, q.Text, q.Text)
	}
	return s.fallback.FindDirectIDs(ctx, q.Name, q.Description, q.QRCode)
}

// IndexItem upserts an item record, fire-and-forget.
func (s *Service) IndexItem(item ItemRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexItem(item); err != nil {
			log.Printf("search: index item %s: %v", item.ID, err)
		}
	}()
}

// DeleteItems removes item records, fire-and-forget.
func (s *Service) DeleteItems(ids []string) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteItem(id); err != nil {
				log.Printf("search: delete item %s: %v", id, err)
			}
		}
	}()
}

// ReindexAll pushes every item into Meilisearch; called at bootstrap.
func (s *Service) ReindexAll(items []ItemRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() || len(items) == 0 {
		return
	}
	if err := s.meili.IndexItems(items); err != nil {
		log.Printf("search: reindex items: %v", err)
	}
}
