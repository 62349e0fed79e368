package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
)

var contactStatuses = []string{"active", "inactive", "unsubscribed"}

type listContactsArgs struct {
	Search string `json:"search" validate:"max=200"`
	Status string `json:"status" validate:"omitempty,oneof=active inactive unsubscribed"`
	Limit  int    `json:"limit" validate:"min=0,max=100"`
}

type contactIDArgs struct {
	ContactID string `json:"contact_id" validate:"required,max=64"`
}

type createContactArgs struct {
	Name   string   `json:"name" validate:"required,max=200"`
	Email  string   `json:"email" validate:"required_without=Phone,omitempty,email,max=254"`
	Phone  string   `json:"phone" validate:"required_without=Email,omitempty,e164"`
	Status string   `json:"status" validate:"omitempty,oneof=active inactive unsubscribed"`
	Tags   []string `json:"tags" validate:"max=20,dive,required,max=50"`
	Notes  string   `json:"notes" validate:"max=2000"`
}

type updateContactArgs struct {
	ContactID string  `json:"contact_id" validate:"required,max=64"`
	Name      *string `json:"name" validate:"omitempty,min=1,max=200"`
	Email     *string `json:"email" validate:"omitempty,email,max=254"`
	Phone     *string `json:"phone" validate:"omitempty,e164"`
	Status    *string `json:"status" validate:"omitempty,oneof=active inactive unsubscribed"`
	Notes     *string `json:"notes" validate:"omitempty,max=2000"`
}

type contactIDsArgs struct {
	ContactIDs []string `json:"contact_ids" validate:"required,min=1,max=500,dive,required,max=64"`
}

type tagContactsArgs struct {
	ContactIDs []string `json:"contact_ids" validate:"required,min=1,max=500,dive,required,max=64"`
	Tag        string   `json:"tag" validate:"required,max=50"`
}

func contactTarget(id string) models.Target {
	return models.Target{Table: store.TableContacts, ID: id}
}

func contactTools() []Tool {
	idSchema := String("Contact id")
	idsSchema := Array("Contact ids (at most 500)", String("Contact id"))

	return []Tool{
		&typedTool[listContactsArgs]{
			decl: Declaration{
				Name:        "list_contacts",
				Description: "Search and list contacts. Matches name, email or phone case-insensitively.",
				Parameters: Object(map[string]*Schema{
					"search": String("Text to search for in name, email or phone"),
					"status": Enum("Only contacts with this status", contactStatuses...),
					"limit":  Integer("Maximum number of contacts to return (default 20, max 100)"),
				}),
				ReadOnly: true,
			},
			run: listContacts,
		},
		&typedTool[contactIDArgs]{
			decl: Declaration{
				Name:        "get_contact",
				Description: "Fetch one contact by id.",
				Parameters:  Object(map[string]*Schema{"contact_id": idSchema}, "contact_id"),
				ReadOnly:    true,
			},
			target: func(a contactIDArgs) models.Target { return contactTarget(a.ContactID) },
			run: func(ctx context.Context, env *Env, a contactIDArgs) (Outcome, error) {
				rec, err := fetch(ctx, env, store.TableContacts, "contact", a.ContactID)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Data: map[string]any{"contact": rec}}, nil
			},
		},
		&typedTool[createContactArgs]{
			decl: Declaration{
				Name:        "create_contact",
				Description: "Create a contact. Either email or phone (E.164, e.g. +15551234567) is required.",
				Parameters: Object(map[string]*Schema{
					"name":   String("Full name"),
					"email":  String("Email address"),
					"phone":  String("Phone number in E.164 format"),
					"status": Enum("Initial status (default active)", contactStatuses...),
					"tags":   Array("Tags to attach", String("Tag")),
					"notes":  String("Free-form notes"),
				}, "name"),
			},
			describe: func(a createContactArgs) string { return "create contact " + a.Name },
			run:      createContact,
		},
		&typedTool[updateContactArgs]{
			decl: Declaration{
				Name:        "update_contact",
				Description: "Update fields of an existing contact. Only the given fields change.",
				Parameters: Object(map[string]*Schema{
					"contact_id": idSchema,
					"name":       String("New full name"),
					"email":      String("New email address"),
					"phone":      String("New phone number in E.164 format"),
					"status":     Enum("New status", contactStatuses...),
					"notes":      String("New notes"),
				}, "contact_id"),
			},
			target: func(a updateContactArgs) models.Target { return contactTarget(a.ContactID) },
			run:    updateContact,
		},
		&typedTool[tagContactsArgs]{
			decl: Declaration{
				Name:        "tag_contacts",
				Description: "Add a tag to one or more contacts. Reports exactly how many were tagged.",
				Parameters: Object(map[string]*Schema{
					"contact_ids": idsSchema,
					"tag":         String("Tag to add"),
				}, "contact_ids", "tag"),
			},
			target: func(tagContactsArgs) models.Target { return contactTarget("") },
			run:    tagContacts,
		},
		&typedTool[contactIDArgs]{
			decl: Declaration{
				Name:        "delete_contact",
				Description: "Permanently delete one contact.",
				Parameters:  Object(map[string]*Schema{"contact_id": idSchema}, "contact_id"),
				Destructive: true,
			},
			target:   func(a contactIDArgs) models.Target { return contactTarget(a.ContactID) },
			describe: func(a contactIDArgs) string { return "permanently delete contact " + a.ContactID },
			run: func(ctx context.Context, env *Env, a contactIDArgs) (Outcome, error) {
				err := env.Store.DeleteRecord(ctx, store.TableContacts, a.ContactID)
				if store.IsNotFound(err) {
					return Outcome{}, fmt.Errorf("contact %s not found", a.ContactID)
				}
				if err != nil {
					return Outcome{}, storeFailure("delete contact", err)
				}
				return Outcome{Data: map[string]any{"deleted": true, "contact_id": a.ContactID}}, nil
			},
		},
		&typedTool[contactIDsArgs]{
			decl: Declaration{
				Name:        "bulk_delete_contacts",
				Description: "Permanently delete several contacts. Reports how many of the requested contacts were actually deleted.",
				Parameters:  Object(map[string]*Schema{"contact_ids": idsSchema}, "contact_ids"),
				Destructive: true,
			},
			target: func(contactIDsArgs) models.Target { return contactTarget("") },
			describe: func(a contactIDsArgs) string {
				return fmt.Sprintf("permanently delete %d contacts", len(unique(a.ContactIDs)))
			},
			run: bulkDeleteContacts,
		},
	}
}

func listContacts(ctx context.Context, env *Env, a listContactsArgs) (Outcome, error) {
	q := store.Query{Limit: clampLimit(a.Limit)}
	if a.Status != "" {
		q.Filters = map[string]any{"status": a.Status}
	}
	if s := strings.TrimSpace(a.Search); s != "" {
		q.Search = &store.Search{Columns: []string{"name", "email", "phone"}, Term: s}
	}
	rows, err := env.Store.ListRecords(ctx, store.TableContacts, q)
	if err != nil {
		return Outcome{}, storeFailure("list contacts", err)
	}
	return Outcome{Data: map[string]any{"contacts": rows, "count": len(rows)}}, nil
}

func createContact(ctx context.Context, env *Env, a createContactArgs) (Outcome, error) {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if email != "" {
		n, err := env.Store.CountRecords(ctx, store.TableContacts, map[string]any{"email": email})
		if err != nil {
			return Outcome{}, storeFailure("check existing contacts", err)
		}
		if n > 0 {
			return Outcome{}, fmt.Errorf("a contact with email %s already exists", email)
		}
	}

	status := a.Status
	if status == "" {
		status = "active"
	}
	rec := store.Record{
		"name":   strings.TrimSpace(a.Name),
		"status": status,
		"source": "admin_agent",
	}
	if email != "" {
		rec["email"] = email
	}
	if a.Phone != "" {
		rec["phone"] = a.Phone
	}
	if len(a.Tags) > 0 {
		rec["tags"] = unique(a.Tags)
	}
	if a.Notes != "" {
		rec["notes"] = a.Notes
	}

	created, err := env.Store.InsertRecord(ctx, store.TableContacts, rec)
	if err != nil {
		return Outcome{}, storeFailure("create contact", err)
	}
	return Outcome{
		Data:   map[string]any{"contact": brief(created, "name", "email", "phone", "status", "tags")},
		Target: contactTarget(created.ID()),
	}, nil
}

func updateContact(ctx context.Context, env *Env, a updateContactArgs) (Outcome, error) {
	p := patch{}
	p.str("name", a.Name)
	if a.Email != nil {
		p["email"] = strings.ToLower(strings.TrimSpace(*a.Email))
	}
	p.str("phone", a.Phone)
	p.str("status", a.Status)
	p.str("notes", a.Notes)
	if len(p) == 0 {
		return Outcome{}, errNoFields
	}

	updated, err := env.Store.UpdateRecord(ctx, store.TableContacts, a.ContactID, store.Record(p))
	if store.IsNotFound(err) {
		return Outcome{}, fmt.Errorf("contact %s not found", a.ContactID)
	}
	if err != nil {
		return Outcome{}, storeFailure("update contact", err)
	}
	return Outcome{Data: map[string]any{"contact": brief(updated, p.columns()...)}}, nil
}

func tagContacts(ctx context.Context, env *Env, a tagContactsArgs) (Outcome, error) {
	ids := unique(a.ContactIDs)
	tag := strings.TrimSpace(a.Tag)
	var tagged, already int
	missing, failed := []string{}, []string{}
	reasons := map[string]string{}

	for _, id := range ids {
		rec, err := env.Store.GetRecord(ctx, store.TableContacts, id)
		if store.IsNotFound(err) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			failed = append(failed, id)
			reasons[id] = storeFailure("load contact", err).Error()
			continue
		}
		tags := stringList(rec["tags"])
		if contains(tags, tag) {
			already++
			continue
		}
		if _, err := env.Store.UpdateRecord(ctx, store.TableContacts, id, store.Record{"tags": append(tags, tag)}); err != nil {
			failed = append(failed, id)
			reasons[id] = storeFailure("tag contact", err).Error()
			continue
		}
		tagged++
	}

	return Outcome{Data: map[string]any{
		"requested":      len(ids),
		"tagged":         tagged,
		"already_tagged": already,
		"missing":        missing,
		"failed":         failed,
		"errors":         reasons,
		"message":        fmt.Sprintf("tagged %d of %d contacts with %q", tagged, len(ids), tag),
	}}, nil
}

func bulkDeleteContacts(ctx context.Context, env *Env, a contactIDsArgs) (Outcome, error) {
	ids := unique(a.ContactIDs)
	var deleted int
	missing, failed := []string{}, []string{}
	reasons := map[string]string{}

	for _, id := range ids {
		err := env.Store.DeleteRecord(ctx, store.TableContacts, id)
		switch {
		case err == nil:
			deleted++
		case store.IsNotFound(err):
			missing = append(missing, id)
		default:
			failed = append(failed, id)
			reasons[id] = storeFailure("delete contact", err).Error()
		}
	}

	return Outcome{Data: map[string]any{
		"requested": len(ids),
		"deleted":   deleted,
		"missing":   missing,
		"failed":    failed,
		"errors":    reasons,
		"message":   fmt.Sprintf("deleted %d of %d contacts", deleted, len(ids)),
	}}, nil
}

// unique drops duplicates while keeping order.
func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
