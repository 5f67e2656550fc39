package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxItems = "stockroom_items"

// Meili maintains the item index and answers free-text queries.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the item index.
// An unreachable server is tolerated: the health loop retries and the
// caller falls back to the store in the meantime.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxItems,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxItems, err)
	}

	index := m.client.Index(idxItems)
	searchable := []string{"name", "description", "qrCode"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxItems, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search returns ids of items matching the free-text query.
func (m *Meili) Search(text string, limit int) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit == 0 {
		limit = 50
	}

	resp, err := m.client.Index(idxItems).Search(text, &meili.SearchRequest{
		Limit: int64(limit),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id := decodeString(hit, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// IndexItem upserts one item record.
func (m *Meili) IndexItem(item ItemRecord) error {
	if _, err := m.client.Index(idxItems).AddDocuments([]ItemRecord{item}, nil); err != nil {
		return fmt.Errorf("index item %s: %w", item.ID, err)
	}
	return nil
}

// IndexItems upserts a batch of item records.
func (m *Meili) IndexItems(items []ItemRecord) error {
	if len(items) == 0 {
		return nil
	}
	if _, err := m.client.Index(idxItems).AddDocuments(items, nil); err != nil {
		return fmt.Errorf("index %d items: %w", len(items), err)
	}
	return nil
}

// DeleteItem removes one item record.
func (m *Meili) DeleteItem(id string) error {
	if _, err := m.client.Index(idxItems).DeleteDocument(id, nil); err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	return nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
