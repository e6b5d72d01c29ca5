package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"ckdt/internal/domain"
	"ckdt/internal/engine/auth"
	"ckdt/internal/events"
	"ckdt/internal/repo"
	"ckdt/internal/search"
)

// Engine runs catalog and account commands. Every mutation is validated,
// runs in one transaction and leaves an audit event behind.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Validate *validator.Validate
	Now      func() time.Time
	NewID    func() string
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Validate: newValidator(),
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) validator() *validator.Validate {
	if e.Validate != nil {
		return e.Validate
	}
	return newValidator()
}

func (e Engine) check(in any) error {
	if err := e.validator().Struct(in); err != nil {
		return validationError(err)
	}
	return nil
}

// ServiceQuery narrows ListServices.
type ServiceQuery struct {
	Category domain.Category
	// Text is matched accent- and case-insensitively against titles,
	// descriptions, section titles and item texts.
	Text string
}

// ListServices returns catalog entries without their sections.
func (e Engine) ListServices(ctx context.Context, q ServiceQuery) ([]domain.Service, error) {
	list, err := e.Repo.ListServices(ctx, repo.ServiceFilter{Category: q.Category})
	if err != nil {
		return nil, err
	}
	if len(search.Tokens(q.Text)) == 0 {
		return list, nil
	}
	var out []domain.Service
	for _, s := range list {
		full, err := e.Repo.GetService(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		if search.Match(full, q.Text) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (e Engine) GetService(ctx context.Context, id string) (domain.Service, error) {
	return e.Repo.GetService(ctx, id)
}

func (e Engine) CreateService(ctx context.Context, actor auth.Actor, in ServiceInput) (domain.Service, error) {
	if err := auth.Require(actor, auth.PermCatalogWrite); err != nil {
		return domain.Service{}, err
	}
	in.trim()
	if err := e.check(in); err != nil {
		return domain.Service{}, err
	}
	now := e.stamp()
	svc := buildService(e.newID(), in, nil, e.newID)
	svc.CreatedAt, svc.UpdatedAt = now, now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Service{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertService(ctx, tx, svc); err != nil {
		return domain.Service{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ServiceCreated, "service", svc.ID, actor.ID, servicePayload(svc)); err != nil {
		return domain.Service{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Service{}, err
	}
	return svc, nil
}

// UpdateService replaces a service's content. Sections and items that match
// the stored tree keep their ids, so open view sessions keep their checks.
func (e Engine) UpdateService(ctx context.Context, actor auth.Actor, id string, in ServiceInput) (domain.Service, error) {
	if err := auth.Require(actor, auth.PermCatalogWrite); err != nil {
		return domain.Service{}, err
	}
	in.trim()
	if err := e.check(in); err != nil {
		return domain.Service{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Service{}, err
	}
	defer tx.Rollback()
	existing, err := e.Repo.GetServiceTx(ctx, tx, id)
	if err != nil {
		return domain.Service{}, err
	}
	svc := buildService(id, in, &existing, e.newID)
	svc.CreatedAt = existing.CreatedAt
	svc.UpdatedAt = e.stamp()
	if err := e.Repo.ReplaceService(ctx, tx, svc); err != nil {
		return domain.Service{}, err
	}
	payload := servicePayload(svc)
	payload["kept_items"] = keptItems(existing, svc)
	if err := e.Events.Append(ctx, tx, events.ServiceUpdated, "service", id, actor.ID, payload); err != nil {
		return domain.Service{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Service{}, err
	}
	return svc, nil
}

// DuplicateService copies a service under fresh ids.
func (e Engine) DuplicateService(ctx context.Context, actor auth.Actor, id string) (domain.Service, error) {
	if err := auth.Require(actor, auth.PermCatalogWrite); err != nil {
		return domain.Service{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Service{}, err
	}
	defer tx.Rollback()
	src, err := e.Repo.GetServiceTx(ctx, tx, id)
	if err != nil {
		return domain.Service{}, err
	}
	in := ServiceInputOf(src)
	in.Title += " (cópia)"
	for i := range in.Sections {
		in.Sections[i].ID = ""
		for j := range in.Sections[i].Items {
			in.Sections[i].Items[j].ID = ""
		}
	}
	now := e.stamp()
	dup := buildService(e.newID(), in, nil, e.newID)
	dup.CreatedAt, dup.UpdatedAt = now, now
	if err := e.Repo.InsertService(ctx, tx, dup); err != nil {
		return domain.Service{}, err
	}
	payload := servicePayload(dup)
	payload["source_id"] = id
	if err := e.Events.Append(ctx, tx, events.ServiceDuplicated, "service", dup.ID, actor.ID, payload); err != nil {
		return domain.Service{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Service{}, err
	}
	return dup, nil
}

func (e Engine) DeleteService(ctx context.Context, actor auth.Actor, id string) error {
	if err := auth.Require(actor, auth.PermCatalogWrite); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	svc, err := e.Repo.GetServiceTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteService(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ServiceDeleted, "service", id, actor.ID, servicePayload(svc)); err != nil {
		return err
	}
	return tx.Commit()
}

// ReorderSections sets section positions to their index in ids, which must
// list every section of the service exactly once.
func (e Engine) ReorderSections(ctx context.Context, actor auth.Actor, serviceID string, ids []string) (domain.Service, error) {
	if err := auth.Require(actor, auth.PermCatalogWrite); err != nil {
		return domain.Service{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Service{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetServiceTx(ctx, tx, serviceID); err != nil {
		return domain.Service{}, err
	}
	current, err := e.Repo.SectionIDs(ctx, tx, serviceID)
	if err != nil {
		return domain.Service{}, err
	}
	if err := sameSet(current, ids); err != nil {
		return domain.Service{}, fmt.Errorf("%w: sections: %v", ErrInvalid, err)
	}
	if err := e.Repo.UpdateSectionPositions(ctx, tx, ids); err != nil {
		return domain.Service{}, err
	}
	if err := e.Repo.TouchService(ctx, tx, serviceID, e.stamp()); err != nil {
		return domain.Service{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SectionsReordered, "service", serviceID, actor.ID, events.EventPayload{"order": ids}); err != nil {
		return domain.Service{}, err
	}
	svc, err := e.Repo.GetServiceTx(ctx, tx, serviceID)
	if err != nil {
		return domain.Service{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Service{}, err
	}
	return svc, nil
}

// ReorderItems is ReorderSections for the items of one section.
func (e Engine) ReorderItems(ctx context.Context, actor auth.Actor, sectionID string, ids []string) (domain.Service, error) {
	if err := auth.Require(actor, auth.PermCatalogWrite); err != nil {
		return domain.Service{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Service{}, err
	}
	defer tx.Rollback()
	sec, err := e.Repo.GetSection(ctx, tx, sectionID)
	if err != nil {
		return domain.Service{}, err
	}
	current, err := e.Repo.ItemIDs(ctx, tx, sectionID)
	if err != nil {
		return domain.Service{}, err
	}
	if err := sameSet(current, ids); err != nil {
		return domain.Service{}, fmt.Errorf("%w: items: %v", ErrInvalid, err)
	}
	if err := e.Repo.UpdateItemPositions(ctx, tx, ids); err != nil {
		return domain.Service{}, err
	}
	if err := e.Repo.TouchService(ctx, tx, sec.ServiceID, e.stamp()); err != nil {
		return domain.Service{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ItemsReordered, "section", sectionID, actor.ID, events.EventPayload{"service_id": sec.ServiceID, "order": ids}); err != nil {
		return domain.Service{}, err
	}
	svc, err := e.Repo.GetServiceTx(ctx, tx, sec.ServiceID)
	if err != nil {
		return domain.Service{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Service{}, err
	}
	return svc, nil
}

func sameSet(current, ids []string) error {
	if len(ids) != len(current) {
		return fmt.Errorf("expected %d ids, got %d", len(current), len(ids))
	}
	want := make(map[string]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !want[id] {
			return fmt.Errorf("unknown id %s", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
	return nil
}

func servicePayload(svc domain.Service) events.EventPayload {
	return events.EventPayload{
		"title":    svc.Title,
		"category": string(svc.Category),
		"sections": len(svc.Sections),
	}
}

func keptItems(before, after domain.Service) int {
	old := map[string]bool{}
	for _, s := range before.Sections {
		for _, it := range s.Items {
			old[it.ID] = true
		}
	}
	n := 0
	for _, s := range after.Sections {
		for _, it := range s.Items {
			if old[it.ID] {
				n++
			}
		}
	}
	return n
}

// IsNotFound reports whether err is a missing catalog entry or account.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
