package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"ckdt/internal/engine/auth"
	"ckdt/internal/events"
	"ckdt/internal/repo"
)

// Catalog is the YAML seed/export document.
type Catalog struct {
	Services []CatalogService `yaml:"services" json:"services"`
}

type CatalogService struct {
	ID           string `yaml:"id,omitempty" json:"id,omitempty"`
	ServiceInput `yaml:",inline"`
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return c, nil
		}
		return c, fmt.Errorf("%w: parse catalog: %v", ErrInvalid, err)
	}
	return c, nil
}

// WriteCatalog encodes a catalog as YAML.
func WriteCatalog(w io.Writer, c Catalog) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// ImportResult counts what ImportCatalog did.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ImportCatalog upserts every service of the document in one transaction.
// Entries with a known id are replaced keeping matching section and item ids;
// the rest are created. Legacy alternative groups are normalized on the way in.
func (e Engine) ImportCatalog(ctx context.Context, actor auth.Actor, c Catalog) (ImportResult, error) {
	var res ImportResult
	if err := auth.Require(actor, auth.PermCatalogWrite); err != nil {
		return res, err
	}
	for i := range c.Services {
		c.Services[i].trim()
		if err := e.check(c.Services[i].ServiceInput); err != nil {
			return res, fmt.Errorf("service %d (%s): %w", i+1, c.Services[i].Title, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	now := e.stamp()
	for _, cs := range c.Services {
		id := cs.ID
		if id == "" {
			id = e.newID()
		}
		existing, err := e.Repo.GetServiceTx(ctx, tx, id)
		switch {
		case err == nil:
			svc := buildService(id, cs.ServiceInput, &existing, e.newID)
			svc.CreatedAt, svc.UpdatedAt = existing.CreatedAt, now
			if err := e.Repo.ReplaceService(ctx, tx, svc); err != nil {
				return res, err
			}
			res.Updated++
		case errors.Is(err, repo.ErrNotFound):
			svc := buildService(id, cs.ServiceInput, nil, e.newID)
			svc.CreatedAt, svc.UpdatedAt = now, now
			if err := e.Repo.InsertService(ctx, tx, svc); err != nil {
				return res, err
			}
			res.Created++
		default:
			return res, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.CatalogImported, "catalog", "", actor.ID, events.EventPayload{"created": res.Created, "updated": res.Updated}); err != nil {
		return res, err
	}
	return res, tx.Commit()
}

// ExportCatalog returns the whole catalog with ids, ready for ImportCatalog.
func (e Engine) ExportCatalog(ctx context.Context) (Catalog, error) {
	list, err := e.Repo.ListServices(ctx, repo.ServiceFilter{})
	if err != nil {
		return Catalog{}, err
	}
	c := Catalog{Services: make([]CatalogService, 0, len(list))}
	for _, s := range list {
		full, err := e.Repo.GetService(ctx, s.ID)
		if err != nil {
			return Catalog{}, err
		}
		c.Services = append(c.Services, CatalogService{ID: full.ID, ServiceInput: ServiceInputOf(full)})
	}
	return c, nil
}

// Seeded reports whether the catalog holds at least one service.
func (e Engine) Seeded(ctx context.Context) (bool, error) {
	n, err := e.Repo.CountServices(ctx)
	return n > 0, err
}

