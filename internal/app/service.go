package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"stockroom/api/internal/blob"
	"stockroom/api/internal/cache"
	"stockroom/api/internal/search"
	"stockroom/api/internal/store"
	"stockroom/api/internal/tree"
	"stockroom/api/internal/util"
)

const (
	maxNameLength   = 255
	maxQRCodeLength = 255

	deletedItemLabel = "Deleted Item"
	rootParentLabel  = "Storage"
)

// allowedAttachmentPrefixes is the content-type allow list for uploads.
var allowedAttachmentPrefixes = []string{"image/", "application/", "text/"}

type dataStore interface {
	GetItem(ctx context.Context, id string) (store.Item, error)
	ItemsByIDs(ctx context.Context, ids []string) ([]store.Item, error)
	Roots(ctx context.Context) ([]store.Item, error)
	AllItems(ctx context.Context) ([]store.Item, error)
	ForestItems(ctx context.Context, forestID string) ([]store.Item, error)
	UpdateItemAttrs(ctx context.Context, id string, patch store.ItemPatch) (store.Item, error)
	ListHistory(ctx context.Context) ([]store.HistoryEntry, error)
	InsertNote(ctx context.Context, note store.Note) error
	DeleteNote(ctx context.Context, itemID, noteID string) error
	NotesForItems(ctx context.Context, itemIDs []string) ([]store.Note, error)
	InsertEmail(ctx context.Context, email store.Email) error
	DeleteEmail(ctx context.Context, itemID, emailID string) error
	EmailsForItems(ctx context.Context, itemIDs []string) ([]store.Email, error)
	InsertAttachment(ctx context.Context, att store.Attachment) error
	GetAttachment(ctx context.Context, itemID, attachmentID string) (store.Attachment, error)
	DeleteAttachment(ctx context.Context, itemID, attachmentID string) error
	AttachmentsForItems(ctx context.Context, itemIDs []string) ([]store.Attachment, error)
	Ping(ctx context.Context) error
}

// Service exposes the engine-level operations the HTTP layer consumes.
// All collaborators are injected; there is no process-wide mutable state.
type Service struct {
	store             dataStore
	engine            *tree.Engine
	query             *tree.Query
	search            *search.Service
	cache             *cache.TreeCache
	blobs             blob.Store
	newID             func(prefix string) string
	now               func() time.Time
	maxAttachmentSize int64
}

type ServiceOptions struct {
	Search            *search.Service
	Cache             *cache.TreeCache
	Blobs             blob.Store
	MaxAttachmentSize int64
}

func New(ds dataStore, engine *tree.Engine, query *tree.Query, opts ServiceOptions) *Service {
	blobs := opts.Blobs
	if blobs == nil {
		blobs = blob.NewMemory()
	}
	maxSize := opts.MaxAttachmentSize
	if maxSize == 0 {
		maxSize = 25 << 20
	}
	return &Service{
		store:             ds,
		engine:            engine,
		query:             query,
		search:            opts.Search,
		cache:             opts.Cache,
		blobs:             blobs,
		newID:             util.NewID,
		now:               time.Now,
		maxAttachmentSize: maxSize,
	}
}

// Bootstrap pushes the current item set into the search index so a fresh
// Meilisearch instance catches up with the store.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	items, err := s.store.AllItems(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap reindex: %w", err)
	}
	records := make([]search.ItemRecord, len(items))
	for i, item := range items {
		records[i] = itemRecord(item)
	}
	s.search.ReindexAll(records)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type CreateItemInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	QRCode      string  `json:"qrCode"`
	ParentID    *string `json:"parentId"`
}

func (s *Service) CreateItem(ctx context.Context, in CreateItemInput) (ItemTreeView, error) {
	fields := fieldErrors{}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		fields.add("name", "This field is required")
	}
	if len(in.Name) > maxNameLength {
		fields.add("name", fmt.Sprintf("Ensure this value has at most %d characters", maxNameLength))
	}
	if len(in.QRCode) > maxQRCodeLength {
		fields.add("qrCode", fmt.Sprintf("Ensure this value has at most %d characters", maxQRCodeLength))
	}
	if err := fields.err(); err != nil {
		return ItemTreeView{}, err
	}

	item, err := s.engine.Insert(ctx, in.ParentID, tree.NewItem{
		Name:        in.Name,
		Description: in.Description,
		QRCode:      in.QRCode,
	})
	if errors.Is(err, store.ErrNotFound) {
		return ItemTreeView{}, notFound("Parent item not found")
	}
	if err != nil {
		return ItemTreeView{}, err
	}

	s.cache.Invalidate(ctx, item.ForestID)
	if s.search != nil {
		s.search.IndexItem(itemRecord(item))
	}

	view := buildTreeView([]store.Item{item}, groupChildRecords(nil, nil, nil))
	return view, nil
}

// GetItem returns the item with its complete subtree and child records.
func (s *Service) GetItem(ctx context.Context, id string) (any, error) {
	return s.subtreeView(ctx, id)
}

// GetTree is GetItem under its historical route name.
func (s *Service) GetTree(ctx context.Context, id string) (any, error) {
	return s.subtreeView(ctx, id)
}

func (s *Service) subtreeView(ctx context.Context, id string) (any, error) {
	item, err := s.store.GetItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Item not found")
	}
	if err != nil {
		return nil, err
	}

	if payload, ok := s.cache.Get(ctx, item.ForestID, "tree", id); ok {
		return json.RawMessage(payload), nil
	}

	items, err := s.query.Descendants(ctx, id, true)
	if err != nil {
		return nil, err
	}
	recs, err := s.loadChildRecords(ctx, items)
	if err != nil {
		return nil, err
	}
	view := buildTreeView(items, recs)

	if payload, err := json.Marshal(view); err == nil {
		s.cache.Set(ctx, item.ForestID, "tree", id, payload)
	}
	return view, nil
}

// ListItems returns either every root with its nested subtree, or a flat
// listing of all items. The flat mode suppresses children and skips the
// child-record load entirely.
func (s *Service) ListItems(ctx context.Context, hierarchical bool) (any, error) {
	if !hierarchical {
		items, err := s.store.AllItems(ctx)
		if err != nil {
			return nil, err
		}
		return flatViews(items), nil
	}

	roots, err := s.query.Roots(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]any, 0, len(roots))
	for _, root := range roots {
		view, err := s.subtreeView(ctx, root.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

type UpdateItemInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	QRCode      *string `json:"qrCode"`
	// ParentID stays raw so an explicit null (move to root) is
	// distinguishable from an absent field (leave the parent alone).
	ParentID json.RawMessage `json:"parentId"`
}

// UpdateItem edits plain attributes. With partial=false (PUT) the name is
// mandatory; with partial=true (PATCH) absent fields stay untouched. A
// present parentId routes through the move engine.
func (s *Service) UpdateItem(ctx context.Context, id string, in UpdateItemInput, partial bool) (ItemFlatView, error) {
	fields := fieldErrors{}
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
		if trimmed == "" {
			fields.add("name", "This field is required")
		}
		if len(trimmed) > maxNameLength {
			fields.add("name", fmt.Sprintf("Ensure this value has at most %d characters", maxNameLength))
		}
	} else if !partial {
		fields.add("name", "This field is required")
	}
	if in.QRCode != nil && len(*in.QRCode) > maxQRCodeLength {
		fields.add("qrCode", fmt.Sprintf("Ensure this value has at most %d characters", maxQRCodeLength))
	}
	var newParent *string
	parentPresent := len(in.ParentID) > 0
	if parentPresent {
		if err := json.Unmarshal(in.ParentID, &newParent); err != nil {
			fields.add("parentId", "Must be an item id or null")
		}
	}
	if err := fields.err(); err != nil {
		return ItemFlatView{}, err
	}

	// The parent change goes first: a move can be rejected (cycle, unknown
	// parent), and a rejected update must not leave the attribute edits
	// behind.
	if parentPresent {
		current, err := s.store.GetItem(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return ItemFlatView{}, notFound("Item not found")
		}
		if err != nil {
			return ItemFlatView{}, err
		}
		if !sameParent(current.ParentID, newParent) {
			if _, err := s.MoveItem(ctx, id, newParent); err != nil {
				return ItemFlatView{}, err
			}
		}
	}

	item, err := s.store.UpdateItemAttrs(ctx, id, store.ItemPatch{
		Name:        in.Name,
		Description: in.Description,
		QRCode:      in.QRCode,
	})
	if errors.Is(err, store.ErrNotFound) {
		return ItemFlatView{}, notFound("Item not found")
	}
	if err != nil {
		return ItemFlatView{}, err
	}

	s.cache.Invalidate(ctx, item.ForestID)
	if s.search != nil {
		s.search.IndexItem(itemRecord(item))
	}
	return flatView(item), nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// MoveItem reparents an item (nil means promote to root). The engine
// records the history entry inside the same transaction.
func (s *Service) MoveItem(ctx context.Context, id string, newParentID *string) (ItemFlatView, error) {
	before, err := s.store.GetItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ItemFlatView{}, notFound("Item not found")
	}
	if err != nil {
		return ItemFlatView{}, err
	}

	moved, err := s.engine.Move(ctx, id, newParentID)
	if errors.Is(err, tree.ErrCircularDependency) {
		return ItemFlatView{}, circularDependency()
	}
	if errors.Is(err, store.ErrNotFound) {
		return ItemFlatView{}, notFound("Parent item not found")
	}
	if err != nil {
		return ItemFlatView{}, err
	}

	s.cache.Invalidate(ctx, before.ForestID, moved.ForestID)
	return flatView(moved), nil
}

// DeleteItem removes the item, its descendants, and their child records,
// then cleans up attachment content and the search index best-effort.
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	subtree, err := s.query.Descendants(ctx, id, true)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Item not found")
	}
	if err != nil {
		return err
	}
	ids := make([]string, len(subtree))
	for i, item := range subtree {
		ids[i] = item.ID
	}
	attachments, err := s.store.AttachmentsForItems(ctx, ids)
	if err != nil {
		return err
	}

	if err := s.engine.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Item not found")
		}
		return err
	}

	s.cache.Invalidate(ctx, subtree[0].ForestID)
	if s.search != nil {
		s.search.DeleteItems(ids)
	}
	for _, att := range attachments {
		if err := s.blobs.Remove(ctx, att.ObjectKey); err != nil {
			log.Printf("delete item %s: remove blob %s: %v", id, att.ObjectKey, err)
		}
	}
	return nil
}

// GetBreadcrumb returns the path from the forest root down to the item.
func (s *Service) GetBreadcrumb(ctx context.Context, id string) (any, error) {
	item, err := s.store.GetItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Item not found")
	}
	if err != nil {
		return nil, err
	}

	if payload, ok := s.cache.Get(ctx, item.ForestID, "breadcrumb", id); ok {
		return json.RawMessage(payload), nil
	}

	chain, err := s.query.Ancestors(ctx, id, true)
	if err != nil {
		return nil, err
	}
	views := breadcrumbViews(chain)
	if payload, err := json.Marshal(views); err == nil {
		s.cache.Set(ctx, item.ForestID, "breadcrumb", id, payload)
	}
	return views, nil
}

// GetAncestors returns the full ancestor rows root-first.
func (s *Service) GetAncestors(ctx context.Context, id string, includeSelf bool) ([]ItemFlatView, error) {
	chain, err := s.query.Ancestors(ctx, id, includeSelf)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Item not found")
	}
	if err != nil {
		return nil, err
	}
	return flatViews(chain), nil
}

// GetDescendants returns the subtree in pre-order as flat rows.
func (s *Service) GetDescendants(ctx context.Context, id string, includeSelf bool) ([]ItemFlatView, error) {
	items, err := s.query.Descendants(ctx, id, includeSelf)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Item not found")
	}
	if err != nil {
		return nil, err
	}
	return flatViews(items), nil
}

// GetSiblings returns the nodes sharing the item's parent.
func (s *Service) GetSiblings(ctx context.Context, id string) ([]ItemFlatView, error) {
	items, err := s.query.Siblings(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Item not found")
	}
	if err != nil {
		return nil, err
	}
	return flatViews(items), nil
}

// Search finds direct hits for the predicate and widens each to its full
// subtree, deduplicated by id. An empty predicate yields an empty result.
func (s *Service) Search(ctx context.Context, q search.Query) ([]ItemFlatView, error) {
	if q.Empty() {
		return []ItemFlatView{}, nil
	}

	var hits []store.Item
	var err error
	if s.search != nil {
		var ids []string
		ids, err = s.search.DirectHits(ctx, q)
		if err != nil {
			return nil, err
		}
		hits, err = s.store.ItemsByIDs(ctx, ids)
	} else {
		hits, err = s.storeDirectHits(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	expanded, err := s.query.Expand(ctx, hits)
	if err != nil {
		return nil, err
	}
	return flatViews(expanded), nil
}

func (s *Service) storeDirectHits(ctx context.Context, q search.Query) ([]store.Item, error) {
	type finder interface {
		FindDirect(ctx context.Context, name, description, qrCode string) ([]store.Item, error)
	}
	f, ok := s.store.(finder)
	if !ok {
		return nil, fmt.Errorf("store does not support direct search")
	}
	if q.Text != "" {
		return f.FindDirect(ctx, q.Text, q.Text, q.Text)
	}
	return f.FindDirect(ctx, q.Name, q.Description, q.QRCode)
}

// ListHistory returns every reparenting event, newest first, resolving
// soft references to display names with fallbacks for deleted rows.
func (s *Service) ListHistory(ctx context.Context) ([]HistoryView, error) {
	entries, err := s.store.ListHistory(ctx)
	if err != nil {
		return nil, err
	}

	idSet := make(map[string]struct{})
	for _, e := range entries {
		for _, ref := range []*string{e.ItemID, e.OldParentID, e.NewParentID} {
			if ref != nil {
				idSet[*ref] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	items, err := s.store.ItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(items))
	for _, item := range items {
		names[item.ID] = item.Name
	}

	views := make([]HistoryView, len(entries))
	for i, e := range entries {
		views[i] = HistoryView{
			ID:            e.ID,
			ItemID:        e.ItemID,
			OldParentID:   e.OldParentID,
			NewParentID:   e.NewParentID,
			ItemName:      resolveName(names, e.ItemID, deletedItemLabel),
			OldParentName: resolveName(names, e.OldParentID, rootParentLabel),
			NewParentName: resolveName(names, e.NewParentID, rootParentLabel),
			ChangedAt:     e.ChangedAt,
		}
	}
	return views, nil
}

// resolveName maps a soft reference to a display name. A nil reference
// takes nilLabel ("Storage" for parents: the item sat at root level); a
// dangling reference means the row was deleted.
func resolveName(names map[string]string, ref *string, nilLabel string) string {
	if ref == nil {
		return nilLabel
	}
	if name, ok := names[*ref]; ok {
		return name
	}
	return deletedItemLabel
}

type NoteInput struct {
	Content string `json:"content"`
	Author  string `json:"author"`
}

func (s *Service) AddNote(ctx context.Context, itemID string, in NoteInput) (NoteView, error) {
	fields := fieldErrors{}
	if strings.TrimSpace(in.Content) == "" {
		fields.add("content", "This field is required")
	}
	if err := fields.err(); err != nil {
		return NoteView{}, err
	}
	if in.Author == "" {
		in.Author = "System"
	}

	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NoteView{}, notFound("Item not found")
		}
		return NoteView{}, err
	}

	note := store.Note{
		ID:        s.newID("note"),
		ItemID:    itemID,
		Content:   in.Content,
		Author:    in.Author,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NoteView{}, notFound("Item not found")
		}
		return NoteView{}, err
	}
	s.invalidateItemForest(ctx, itemID)
	return noteView(note), nil
}

func (s *Service) DeleteNote(ctx context.Context, itemID, noteID string) error {
	if err := s.store.DeleteNote(ctx, itemID, noteID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Note not found")
		}
		return err
	}
	s.invalidateItemForest(ctx, itemID)
	return nil
}

type EmailInput struct {
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	FromAddress string     `json:"fromAddress"`
	ReceivedAt  *time.Time `json:"receivedAt"`
}

func (s *Service) AddEmail(ctx context.Context, itemID string, in EmailInput) (EmailView, error) {
	fields := fieldErrors{}
	if strings.TrimSpace(in.Subject) == "" {
		fields.add("subject", "This field is required")
	}
	if len(in.Subject) > maxNameLength {
		fields.add("subject", fmt.Sprintf("Ensure this value has at most %d characters", maxNameLength))
	}
	if in.FromAddress != "" && !strings.Contains(in.FromAddress, "@") {
		fields.add("fromAddress", "Enter a valid email address")
	}
	if err := fields.err(); err != nil {
		return EmailView{}, err
	}

	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return EmailView{}, notFound("Item not found")
		}
		return EmailView{}, err
	}

	receivedAt := s.now().UTC()
	if in.ReceivedAt != nil {
		receivedAt = in.ReceivedAt.UTC()
	}
	email := store.Email{
		ID:          s.newID("email"),
		ItemID:      itemID,
		Subject:     in.Subject,
		Body:        in.Body,
		FromAddress: in.FromAddress,
		ReceivedAt:  receivedAt,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return EmailView{}, notFound("Item not found")
		}
		return EmailView{}, err
	}
	s.invalidateItemForest(ctx, itemID)
	return emailView(email), nil
}

func (s *Service) DeleteEmail(ctx context.Context, itemID, emailID string) error {
	if err := s.store.DeleteEmail(ctx, itemID, emailID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Email not found")
		}
		return err
	}
	s.invalidateItemForest(ctx, itemID)
	return nil
}

type AttachmentInput struct {
	FileName    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// AddAttachment validates the upload, stores its content in the blob
// store, and records the metadata row. Content validation (type allow
// list, size cap) happens here; the tree engine never sees bytes.
func (s *Service) AddAttachment(ctx context.Context, itemID string, in AttachmentInput) (AttachmentView, error) {
	fields := fieldErrors{}
	if in.FileName == "" {
		fields.add("file", "This field is required")
	}
	if !allowedContentType(in.ContentType) {
		fields.add("file", fmt.Sprintf("Unsupported content type %q", in.ContentType))
	}
	if in.Size > s.maxAttachmentSize {
		fields.add("file", fmt.Sprintf("File exceeds maximum size of %d bytes", s.maxAttachmentSize))
	}
	if err := fields.err(); err != nil {
		return AttachmentView{}, err
	}

	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AttachmentView{}, notFound("Item not found")
		}
		return AttachmentView{}, err
	}

	att := store.Attachment{
		ID:          s.newID("att"),
		ItemID:      itemID,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		Size:        in.Size,
		UploadedAt:  s.now().UTC(),
	}
	att.ObjectKey = "attachments/" + att.ID + "/" + in.FileName

	if err := s.blobs.Put(ctx, att.ObjectKey, in.Content, in.Size, in.ContentType); err != nil {
		return AttachmentView{}, fmt.Errorf("store attachment content: %w", err)
	}
	if err := s.store.InsertAttachment(ctx, att); err != nil {
		if rmErr := s.blobs.Remove(ctx, att.ObjectKey); rmErr != nil {
			log.Printf("attachment %s: orphaned blob %s: %v", att.ID, att.ObjectKey, rmErr)
		}
		if errors.Is(err, store.ErrNotFound) {
			return AttachmentView{}, notFound("Item not found")
		}
		return AttachmentView{}, err
	}
	s.invalidateItemForest(ctx, itemID)
	return attachmentView(att), nil
}

// GetAttachmentContent streams an attachment's bytes. The caller closes
// the reader.
func (s *Service) GetAttachmentContent(ctx context.Context, itemID, attachmentID string) (io.ReadCloser, store.Attachment, error) {
	att, err := s.store.GetAttachment(ctx, itemID, attachmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.Attachment{}, notFound("Attachment not found")
	}
	if err != nil {
		return nil, store.Attachment{}, err
	}
	content, _, err := s.blobs.Get(ctx, att.ObjectKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, store.Attachment{}, notFound("Attachment content not found")
	}
	if err != nil {
		return nil, store.Attachment{}, err
	}
	return content, att, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, itemID, attachmentID string) error {
	att, err := s.store.GetAttachment(ctx, itemID, attachmentID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Attachment not found")
	}
	if err != nil {
		return err
	}
	if err := s.store.DeleteAttachment(ctx, itemID, attachmentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Attachment not found")
		}
		return err
	}
	if err := s.blobs.Remove(ctx, att.ObjectKey); err != nil {
		log.Printf("delete attachment %s: remove blob %s: %v", attachmentID, att.ObjectKey, err)
	}
	s.invalidateItemForest(ctx, itemID)
	return nil
}

// VerifyForests runs the invariant checker over every forest; the admin
// surface uses it to prove the coordinate layout is intact.
func (s *Service) VerifyForests(ctx context.Context) (map[string]string, error) {
	roots, err := s.query.Roots(ctx)
	if err != nil {
		return nil, err
	}
	report := make(map[string]string, len(roots))
	for _, root := range roots {
		if err := s.query.Verify(ctx, root.ForestID); err != nil {
			report[root.ForestID] = err.Error()
		} else {
			report[root.ForestID] = "ok"
		}
	}
	return report, nil
}

func (s *Service) loadChildRecords(ctx context.Context, items []store.Item) (childRecords, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	notes, err := s.store.NotesForItems(ctx, ids)
	if err != nil {
		return childRecords{}, err
	}
	emails, err := s.store.EmailsForItems(ctx, ids)
	if err != nil {
		return childRecords{}, err
	}
	attachments, err := s.store.AttachmentsForItems(ctx, ids)
	if err != nil {
		return childRecords{}, err
	}
	return groupChildRecords(notes, emails, attachments), nil
}

func (s *Service) invalidateItemForest(ctx context.Context, itemID string) {
	if s.cache == nil {
		return
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return
	}
	s.cache.Invalidate(ctx, item.ForestID)
}

func itemRecord(item store.Item) search.ItemRecord {
	return search.ItemRecord{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		QRCode:      item.QRCode,
	}
}

func allowedContentType(contentType string) bool {
	for _, prefix := range allowedAttachmentPrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}
