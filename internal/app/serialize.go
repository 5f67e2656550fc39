package app

import (
	"time"

	"stockroom/api/internal/store"
)

// One explicit serializer per output shape. The nested tree view, the flat
// view, the breadcrumb entry, and the history entry are distinct types
// rather than one struct with runtime-probed fields.

type NoteView struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type EmailView struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	FromAddress string    `json:"fromAddress"`
	ReceivedAt  time.Time `json:"receivedAt"`
	Processed   bool      `json:"processed"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AttachmentView struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// ItemTreeView is the hierarchical shape: the node, its child records, and
// its children nested recursively.
type ItemTreeView struct {
	ID          string           `json:"id"`
	ParentID    *string          `json:"parentId"`
	ForestID    string           `json:"forestId"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	QRCode      string           `json:"qrCode"`
	Depth       int64            `json:"depth"`
	CreatedAt   time.Time        `json:"createdAt"`
	Children    []ItemTreeView   `json:"children"`
	Notes       []NoteView       `json:"notes"`
	Emails      []EmailView      `json:"emails"`
	Attachments []AttachmentView `json:"attachments"`
}

// ItemFlatView is the flat shape: no nesting and no child records.
type ItemFlatView struct {
	ID          string    `json:"id"`
	ParentID    *string   `json:"parentId"`
	ForestID    string    `json:"forestId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	QRCode      string    `json:"qrCode"`
	Depth       int64     `json:"depth"`
	CreatedAt   time.Time `json:"createdAt"`
}

type BreadcrumbView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Depth int64  `json:"depth"`
}

type HistoryView struct {
	ID            int64     `json:"id"`
	ItemID        *string   `json:"itemId"`
	OldParentID   *string   `json:"oldParentId"`
	NewParentID   *string   `json:"newParentId"`
	ItemName      string    `json:"itemName"`
	OldParentName string    `json:"oldParentName"`
	NewParentName string    `json:"newParentName"`
	ChangedAt     time.Time `json:"changedAt"`
}

func flatView(item store.Item) ItemFlatView {
	return ItemFlatView{
		ID:          item.ID,
		ParentID:    item.ParentID,
		ForestID:    item.ForestID,
		Name:        item.Name,
		Description: item.Description,
		QRCode:      item.QRCode,
		Depth:       item.Depth,
		CreatedAt:   item.CreatedAt,
	}
}

func flatViews(items []store.Item) []ItemFlatView {
	out := make([]ItemFlatView, len(items))
	for i, item := range items {
		out[i] = flatView(item)
	}
	return out
}

func breadcrumbViews(items []store.Item) []BreadcrumbView {
	out := make([]BreadcrumbView, len(items))
	for i, item := range items {
		out[i] = BreadcrumbView{ID: item.ID, Name: item.Name, Depth: item.Depth}
	}
	return out
}

func noteView(n store.Note) NoteView {
	return NoteView{ID: n.ID, Content: n.Content, Author: n.Author, CreatedAt: n.CreatedAt}
}

func emailView(e store.Email) EmailView {
	return EmailView{
		ID:          e.ID,
		Subject:     e.Subject,
		Body:        e.Body,
		FromAddress: e.FromAddress,
		ReceivedAt:  e.ReceivedAt,
		Processed:   e.Processed,
		CreatedAt:   e.CreatedAt,
	}
}

func attachmentView(a store.Attachment) AttachmentView {
	return AttachmentView{
		ID:          a.ID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Size:        a.Size,
		UploadedAt:  a.UploadedAt,
	}
}

// childRecords groups a subtree's notes, emails, and attachments by item id.
type childRecords struct {
	notes       map[string][]NoteView
	emails      map[string][]EmailView
	attachments map[string][]AttachmentView
}

func groupChildRecords(notes []store.Note, emails []store.Email, attachments []store.Attachment) childRecords {
	recs := childRecords{
		notes:       make(map[string][]NoteView),
		emails:      make(map[string][]EmailView),
		attachments: make(map[string][]AttachmentView),
	}
	for _, n := range notes {
		recs.notes[n.ItemID] = append(recs.notes[n.ItemID], noteView(n))
	}
	for _, e := range emails {
		recs.emails[e.ItemID] = append(recs.emails[e.ItemID], emailView(e))
	}
	for _, a := range attachments {
		recs.attachments[a.ItemID] = append(recs.attachments[a.ItemID], attachmentView(a))
	}
	return recs
}

// buildTreeView nests a pre-ordered subtree slice (root first, left_bound
// ascending) into the hierarchical view. The containment stack mirrors the
// interval nesting, so no recursion and no parent-pointer chasing.
func buildTreeView(items []store.Item, recs childRecords) ItemTreeView {
	if len(items) == 0 {
		return ItemTreeView{}
	}
	nodes := make([]*ItemTreeView, len(items))
	for i, item := range items {
		nodes[i] = &ItemTreeView{
			ID:          item.ID,
			ParentID:    item.ParentID,
			ForestID:    item.ForestID,
			Name:        item.Name,
			Description: item.Description,
			QRCode:      item.QRCode,
			Depth:       item.Depth,
			CreatedAt:   item.CreatedAt,
			Children:    []ItemTreeView{},
			Notes:       orEmptyNotes(recs.notes[item.ID]),
			Emails:      orEmptyEmails(recs.emails[item.ID]),
			Attachments: orEmptyAttachments(recs.attachments[item.ID]),
		}
	}

	type frame struct {
		node  *ItemTreeView
		right int64
	}
	var stack []frame
	for i, item := range items {
		for len(stack) > 0 && stack[len(stack)-1].right < item.LeftBound {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				parent := stack[len(stack)-1].node
				parent.Children = append(parent.Children, *top.node)
			}
		}
		stack = append(stack, frame{node: nodes[i], right: item.RightBound})
	}
	for len(stack) > 1 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parent := stack[len(stack)-1].node
		parent.Children = append(parent.Children, *top.node)
	}
	return *stack[0].node
}

func orEmptyNotes(v []NoteView) []NoteView {
	if v == nil {
		return []NoteView{}
	}
	return v
}

func orEmptyEmails(v []EmailView) []EmailView {
	if v == nil {
		return []EmailView{}
	}
	return v
}

func orEmptyAttachments(v []AttachmentView) []AttachmentView {
	if v == nil {
		return []AttachmentView{}
	}
	return v
}
