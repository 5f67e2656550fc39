package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("store: not found")

// MemoryStore is an in-process implementation of the same surface as
// PostgresStore. Tests run the full engine and service against it;
// transactions roll back by restoring a snapshot taken at entry.
type MemoryStore struct {
	mu          sync.RWMutex
	items       map[string]Item
	notes       map[string]Note
	emails      map[string]Email
	attachments map[string]Attachment
	history     []HistoryEntry
	nextHistory int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:       make(map[string]Item),
		notes:       make(map[string]Note),
		emails:      make(map[string]Email),
		attachments: make(map[string]Attachment),
		nextHistory: 1,
	}
}

type memSnapshot struct {
	items       map[string]Item
	notes       map[string]Note
	emails      map[string]Email
	attachments map[string]Attachment
	history     []HistoryEntry
	nextHistory int64
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		items:       make(map[string]Item, len(s.items)),
		notes:       make(map[string]Note, len(s.notes)),
		emails:      make(map[string]Email, len(s.emails)),
		attachments: make(map[string]Attachment, len(s.attachments)),
		history:     append([]HistoryEntry(nil), s.history...),
		nextHistory: s.nextHistory,
	}
	for k, v := range s.items {
		snap.items[k] = v
	}
	for k, v := range s.notes {
		snap.notes[k] = v
	}
	for k, v := range s.emails {
		snap.emails[k] = v
	}
	for k, v := range s.attachments {
		snap.attachments[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.items = snap.items
	s.notes = snap.notes
	s.emails = snap.emails
	s.attachments = snap.attachments
	s.history = snap.history
	s.nextHistory = snap.nextHistory
}

// WithTx runs fn holding the store's write lock. Any error restores the
// pre-transaction state, so a failed coordinate rewrite leaves nothing
// half-applied.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// memTx mutates the store directly; the caller holds the write lock.
type memTx struct {
	s *MemoryStore
}

func (t memTx) GetItem(ctx context.Context, id string) (Item, error) {
	item, ok := t.s.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (t memTx) InsertItem(ctx context.Context, item Item) error {
	t.s.items[item.ID] = item
	return nil
}

func (t memTx) SetParent(ctx context.Context, id string, parentID *string) error {
	item, ok := t.s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.ParentID = parentID
	t.s.items[id] = item
	return nil
}

func (t memTx) OpenGap(ctx context.Context, forestID string, at, width int64) error {
	for id, item := range t.s.items {
		if item.ForestID != forestID {
			continue
		}
		changed := false
		if item.RightBound >= at {
			item.RightBound += width
			changed = true
		}
		if item.LeftBound >= at {
			item.LeftBound += width
			changed = true
		}
		if changed {
			t.s.items[id] = item
		}
	}
	return nil
}

func (t memTx) CloseGap(ctx context.Context, forestID string, after, width int64) error {
	for id, item := range t.s.items {
		if item.ForestID != forestID {
			continue
		}
		changed := false
		if item.LeftBound > after {
			item.LeftBound -= width
			changed = true
		}
		if item.RightBound > after {
			item.RightBound -= width
			changed = true
		}
		if changed {
			t.s.items[id] = item
		}
	}
	return nil
}

func (t memTx) DetachSubtree(ctx context.Context, forestID string, left, right int64) error {
	for id, item := range t.s.items {
		if item.ForestID == forestID && item.LeftBound >= left && item.LeftBound <= right {
			item.LeftBound = -item.LeftBound
			item.RightBound = -item.RightBound
			t.s.items[id] = item
		}
	}
	return nil
}

func (t memTx) GraftSubtree(ctx context.Context, srcForestID, dstForestID string, boundOffset, depthDelta int64) error {
	for id, item := range t.s.items {
		if item.ForestID == srcForestID && item.LeftBound < 0 {
			item.LeftBound = -item.LeftBound + boundOffset
			item.RightBound = -item.RightBound + boundOffset
			item.Depth += depthDelta
			item.ForestID = dstForestID
			t.s.items[id] = item
		}
	}
	return nil
}

func (t memTx) DeleteSubtree(ctx context.Context, forestID string, left, right int64) error {
	for id, item := range t.s.items {
		if item.ForestID != forestID || item.LeftBound < left || item.LeftBound > right {
			continue
		}
		delete(t.s.items, id)
		for nid, n := range t.s.notes {
			if n.ItemID == id {
				delete(t.s.notes, nid)
			}
		}
		for eid, e := range t.s.emails {
			if e.ItemID == id {
				delete(t.s.emails, eid)
			}
		}
		for aid, a := range t.s.attachments {
			if a.ItemID == id {
				delete(t.s.attachments, aid)
			}
		}
	}
	return nil
}

func (t memTx) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	entry.ID = t.s.nextHistory
	t.s.nextHistory++
	t.s.history = append(t.s.history, entry)
	return nil
}

func (s *MemoryStore) GetItem(ctx context.Context, id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) ItemsByIDs(ctx context.Context, ids []string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *MemoryStore) Roots(ctx context.Context) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.Depth == 0 {
			out = append(out, item)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) AllItems(ctx context.Context) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) ForestItems(ctx context.Context, forestID string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.ForestID == forestID {
			out = append(out, item)
		}
	}
	sortByLeft(out)
	return out, nil
}

func (s *MemoryStore) DescendantRange(ctx context.Context, forestID string, left, right int64) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.ForestID == forestID && item.LeftBound >= left && item.LeftBound <= right {
			out = append(out, item)
		}
	}
	sortByLeft(out)
	return out, nil
}

func (s *MemoryStore) AncestorRange(ctx context.Context, forestID string, left, right int64) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.ForestID == forestID && item.LeftBound <= left && item.RightBound >= right {
			out = append(out, item)
		}
	}
	sortByLeft(out)
	return out, nil
}

func (s *MemoryStore) ChildRange(ctx context.Context, forestID string, left, right, depth int64) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.ForestID == forestID && item.LeftBound > left && item.LeftBound < right && item.Depth == depth {
			out = append(out, item)
		}
	}
	sortByLeft(out)
	return out, nil
}

func (s *MemoryStore) FindDirect(ctx context.Context, name, description, qrCode string) ([]Item, error) {
	if name == "" && description == "" && qrCode == "" {
		return []Item{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		match := false
		if name != "" && strings.Contains(strings.ToLower(item.Name), strings.ToLower(name)) {
			match = true
		}
		if description != "" && strings.Contains(strings.ToLower(item.Description), strings.ToLower(description)) {
			match = true
		}
		if qrCode != "" && item.QRCode == qrCode {
			match = true
		}
		if match {
			out = append(out, item)
		}
	}
	sortByLeft(out)
	return out, nil
}

func (s *MemoryStore) UpdateItemAttrs(ctx context.Context, id string, patch ItemPatch) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.Description != nil {
		item.Description = *patch.Description
	}
	if patch.QRCode != nil {
		item.QRCode = *patch.QRCode
	}
	s.items[id] = item
	return item, nil
}

func (s *MemoryStore) ListHistory(ctx context.Context) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]HistoryEntry(nil), s.history...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChangedAt.Equal(out[j].ChangedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ChangedAt.After(out[j].ChangedAt)
	})
	return out, nil
}

func (s *MemoryStore) InsertNote(ctx context.Context, note Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[note.ItemID]; !ok {
		return ErrNotFound
	}
	s.notes[note.ID] = note
	return nil
}

func (s *MemoryStore) DeleteNote(ctx context.Context, itemID, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[noteID]
	if !ok || note.ItemID != itemID {
		return ErrNotFound
	}
	delete(s.notes, noteID)
	return nil
}

func (s *MemoryStore) NotesForItems(ctx context.Context, itemIDs []string) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := idSet(itemIDs)
	var out []Note
	for _, n := range s.notes {
		if _, ok := wanted[n.ItemID]; ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return noteBefore(out[i], out[j]) })
	return out, nil
}

func (s *MemoryStore) InsertEmail(ctx context.Context, email Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[email.ItemID]; !ok {
		return ErrNotFound
	}
	s.emails[email.ID] = email
	return nil
}

func (s *MemoryStore) DeleteEmail(ctx context.Context, itemID, emailID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.emails[emailID]
	if !ok || email.ItemID != itemID {
		return ErrNotFound
	}
	delete(s.emails, emailID)
	return nil
}

func (s *MemoryStore) EmailsForItems(ctx context.Context, itemIDs []string) ([]Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := idSet(itemIDs)
	var out []Email
	for _, e := range s.emails {
		if _, ok := wanted[e.ItemID]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) InsertAttachment(ctx context.Context, att Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[att.ItemID]; !ok {
		return ErrNotFound
	}
	s.attachments[att.ID] = att
	return nil
}

func (s *MemoryStore) GetAttachment(ctx context.Context, itemID, attachmentID string) (Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.attachments[attachmentID]
	if !ok || att.ItemID != itemID {
		return Attachment{}, ErrNotFound
	}
	return att, nil
}

func (s *MemoryStore) DeleteAttachment(ctx context.Context, itemID, attachmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attachments[attachmentID]
	if !ok || att.ItemID != itemID {
		return ErrNotFound
	}
	delete(s.attachments, attachmentID)
	return nil
}

func (s *MemoryStore) AttachmentsForItems(ctx context.Context, itemIDs []string) ([]Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := idSet(itemIDs)
	var out []Attachment
	for _, a := range s.attachments {
		if _, ok := wanted[a.ItemID]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func noteBefore(a, b Note) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func sortByLeft(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].ForestID == items[j].ForestID {
			return items[i].LeftBound < items[j].LeftBound
		}
		return items[i].ForestID < items[j].ForestID
	})
}

func sortByCreation(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
