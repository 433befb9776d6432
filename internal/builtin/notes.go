package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/appshell/appshell/internal/domain/action"
	"github.com/appshell/appshell/internal/domain/auth"
	"github.com/appshell/appshell/internal/domain/event"
	"github.com/appshell/appshell/internal/domain/record"
	"github.com/appshell/appshell/internal/domain/schema"
)

const notesCollection = "notes"

// Note event types.
const (
	EventNoteCreated  = "note.created"
	EventNoteArchived = "note.archived"
)

// Note is the sample entity managed by the note.* actions.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateNoteInput is the input of note.create.
type CreateNoteInput struct {
	Title string   `json:"title" validate:"required,max=200" jsonschema:"short title of the note"`
	Body  string   `json:"body,omitempty" validate:"max=10000" jsonschema:"free-form note text"`
	Tags  []string `json:"tags,omitempty" validate:"max=20,dive,required,max=32" jsonschema:"labels for filtering"`
}

// NoteIDInput addresses one note.
type NoteIDInput struct {
	ID string `json:"id" validate:"required" jsonschema:"note identifier"`
}

// ListNotesInput is the input of note.list.
type ListNotesInput struct {
	IncludeArchived bool `json:"includeArchived,omitempty"`
}

// DeleteNoteOutput is returned by note.delete.
type DeleteNoteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

var memberRoles = []string{auth.RoleAdmin, auth.RoleMember}

// Notes returns the note.* actions.
func Notes() []action.Definition {
	readers := []action.PermissionRule{{Roles: memberRoles, Effect: action.EffectAllow}}

	return []action.Definition{
		{
			ID:          "note.create",
			Name:        "Create note",
			Description: "Creates a note in the caller's tenant.",
			InputSchema: schema.Struct[CreateNoteInput](),
			Permissions: readers,
			Before:      []action.BeforeFunc{normalizeNoteInput},
			SideEffects: []action.SideEffect{
				{Type: action.SideEffectEmitEvent, Config: map[string]any{"eventType": EventNoteCreated}},
				{Type: action.SideEffectWebhook, Config: map[string]any{"event": EventNoteCreated}},
				{
					Type:   action.SideEffectNotify,
					Config: map[string]any{"template": "note.urgent"},
					When:   `has(input.tags) && "urgent" in input.tags`,
				},
			},
			Handler: action.Typed(createNote),
		},
		{
			ID:          "note.get",
			Name:        "Get note",
			Description: "Returns one note by id.",
			InputSchema: schema.Struct[NoteIDInput](),
			Permissions: readers,
			Idempotent:  true,
			Handler: action.Typed(func(ctx context.Context, in NoteIDInput, actx *action.Context) (Note, error) {
				return loadNote(ctx, actx.DB, in.ID)
			}),
		},
		{
			ID:          "note.list",
			Name:        "List notes",
			Description: "Lists notes oldest first, skipping archived ones unless asked.",
			InputSchema: schema.Struct[ListNotesInput](),
			Permissions: readers,
			Idempotent:  true,
			Handler:     action.Typed(listNotes),
		},
		{
			ID:          "note.delete",
			Name:        "Delete note",
			Description: "Deletes a note. Agents may never delete.",
			InputSchema: schema.Struct[NoteIDInput](),
			Permissions: []action.PermissionRule{
				{CallerTypes: []action.CallerType{action.CallerAIAgent}, Effect: action.EffectDeny},
				{Roles: []string{auth.RoleAdmin}, Effect: action.EffectAllow},
			},
			Handler: action.Typed(func(ctx context.Context, in NoteIDInput, actx *action.Context) (DeleteNoteOutput, error) {
				if err := actx.DB.Delete(ctx, notesCollection, in.ID); err != nil {
					return DeleteNoteOutput{}, err
				}
				return DeleteNoteOutput{Deleted: true, ID: in.ID}, nil
			}),
		},
		{
			ID:          "note.archive",
			Name:        "Archive note",
			Description: "Archives a note. Archiving twice is a workflow violation.",
			InputSchema: schema.Struct[NoteIDInput](),
			Permissions: readers,
			Handler:     action.Typed(archiveNote),
		},
	}
}

// normalizeNoteInput trims the title and drops blank tags.
func normalizeNoteInput(_ context.Context, input any, _ *action.Context) (any, error) {
	in, ok := input.(CreateNoteInput)
	if !ok {
		return input, nil
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, action.Invalid(map[string][]string{"title": {"must not be blank"}})
	}
	tags := in.Tags[:0:0]
	for _, tag := range in.Tags {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			tags = append(tags, tag)
		}
	}
	in.Tags = tags
	return in, nil
}

func createNote(ctx context.Context, in CreateNoteInput, actx *action.Context) (Note, error) {
	n := Note{ID: uuid.NewString(), Title: in.Title, Body: in.Body, Tags: in.Tags}
	if err := saveNote(ctx, actx.DB, &n); err != nil {
		return Note{}, err
	}
	actx.Logger.Debug("note created", "note_id", n.ID)
	return n, nil
}

func listNotes(ctx context.Context, in ListNotesInput, actx *action.Context) ([]Note, error) {
	records, err := actx.DB.List(ctx, notesCollection)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	notes := make([]Note, 0, len(records))
	for i := range records {
		n, err := noteFromRecord(&records[i])
		if err != nil {
			return nil, err
		}
		if n.Archived && !in.IncludeArchived {
			continue
		}
		notes = append(notes, n)
	}
	return notes, nil
}

func archiveNote(ctx context.Context, in NoteIDInput, actx *action.Context) (Note, error) {
	n, err := loadNote(ctx, actx.DB, in.ID)
	if err != nil {
		return Note{}, err
	}
	if n.Archived {
		return Note{}, action.Workflow("Note is already archived", map[string]any{"noteId": n.ID})
	}
	n.Archived = true
	if err := saveNote(ctx, actx.DB, &n); err != nil {
		return Note{}, err
	}
	actx.Emit(ctx, event.DomainEvent{
		Type:    EventNoteArchived,
		Payload: map[string]any{"noteId": n.ID, "requestId": actx.RequestID},
	})
	return n, nil
}

type noteData struct {
	Title    string   `json:"title"`
	Body     string   `json:"body,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Archived bool     `json:"archived"`
}

func loadNote(ctx context.Context, db record.Store, id string) (Note, error) {
	r, err := db.Get(ctx, notesCollection, id)
	if err != nil {
		return Note{}, err
	}
	return noteFromRecord(r)
}

func saveNote(ctx context.Context, db record.Store, n *Note) error {
	r := &record.Record{
		Collection: notesCollection,
		ID:         n.ID,
		Data: map[string]any{
			"title":    n.Title,
			"body":     n.Body,
			"tags":     n.Tags,
			"archived": n.Archived,
		},
	}
	if err := db.Put(ctx, r); err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	n.CreatedAt = r.CreatedAt
	n.UpdatedAt = r.UpdatedAt
	return nil
}

// noteFromRecord decodes through JSON so records from any store (typed Go
// values in memory, decoded JSON in SQLite) read the same way.
func noteFromRecord(r *record.Record) (Note, error) {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return Note{}, fmt.Errorf("encode note %s: %w", r.ID, err)
	}
	var d noteData
	if err := json.Unmarshal(raw, &d); err != nil {
		return Note{}, fmt.Errorf("decode note %s: %w", r.ID, err)
	}
	return Note{
		ID:        r.ID,
		Title:     d.Title,
		Body:      d.Body,
		Tags:      d.Tags,
		Archived:  d.Archived,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}
