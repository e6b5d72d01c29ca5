package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ckdt/internal/domain"
)

// Repo is the catalog storage boundary. Reads return sections and items
// ordered by position. Completion flags are never read or written here.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs on the transaction when one is given.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// ServiceFilter narrows ListServices.
type ServiceFilter struct {
	Category domain.Category
}

// ListServices returns catalog entries without their sections.
func (r Repo) ListServices(ctx context.Context, f ServiceFilter) ([]domain.Service, error) {
	query := `SELECT id,title,category,description,created_at,updated_at FROM services`
	var args []any
	if f.Category != "" {
		query += ` WHERE category=?`
		args = append(args, string(f.Category))
	}
	query += ` ORDER BY created_at ASC, title ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Service
	for rows.Next() {
		var s domain.Service
		var category string
		if err := rows.Scan(&s.ID, &s.Title, &category, &s.Description, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Category = domain.Category(category)
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetService loads a service with its ordered sections and items.
func (r Repo) GetService(ctx context.Context, id string) (domain.Service, error) {
	return r.getService(ctx, r.DB, id)
}

func (r Repo) GetServiceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Service, error) {
	return r.getService(ctx, tx, id)
}

func (r Repo) getService(ctx context.Context, q querier, id string) (domain.Service, error) {
	var s domain.Service
	var category string
	err := q.QueryRowContext(ctx, `SELECT id,title,category,description,created_at,updated_at FROM services WHERE id=?`, id).
		Scan(&s.ID, &s.Title, &category, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Category = domain.Category(category)

	rows, err := q.QueryContext(ctx, `SELECT id,service_id,title,is_optional,is_alternative,position FROM sections WHERE service_id=? ORDER BY position ASC, id ASC`, id)
	if err != nil {
		return s, err
	}
	index := map[string]int{}
	s.Sections = []domain.Section{}
	for rows.Next() {
		var sec domain.Section
		if err := rows.Scan(&sec.ID, &sec.ServiceID, &sec.Title, &sec.IsOptional, &sec.IsAlternative, &sec.Position); err != nil {
			rows.Close()
			return s, err
		}
		sec.Items = []domain.Item{}
		index[sec.ID] = len(s.Sections)
		s.Sections = append(s.Sections, sec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s, err
	}

	rows, err = q.QueryContext(ctx, `SELECT i.id,i.section_id,i.text,i.observation,i.tags_json,i.is_optional,i.position
FROM items i JOIN sections s ON s.id=i.section_id
WHERE s.service_id=? ORDER BY i.position ASC, i.id ASC`, id)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.Item
		var observation, tags sql.NullString
		if err := rows.Scan(&it.ID, &it.SectionID, &it.Text, &observation, &tags, &it.IsOptional, &it.Position); err != nil {
			return s, err
		}
		if observation.Valid {
			it.Observation = observation.String
		}
		if it.Tags, err = decodeTags(tags); err != nil {
			return s, fmt.Errorf("item %s tags: %w", it.ID, err)
		}
		if i, ok := index[it.SectionID]; ok {
			s.Sections[i].Items = append(s.Sections[i].Items, it)
		}
	}
	return s, rows.Err()
}

// InsertService writes a service and its whole tree.
func (r Repo) InsertService(ctx context.Context, tx *sql.Tx, s domain.Service) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO services(id,title,category,description,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Title, string(s.Category), s.Description, s.CreatedAt, s.UpdatedAt); err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return r.insertSections(ctx, q, s)
}

// ReplaceService rewrites the service row and its tree. Ids are taken from
// the value as given, so callers that keep ids keep identity.
func (r Repo) ReplaceService(ctx context.Context, tx *sql.Tx, s domain.Service) error {
	q := r.q(tx)
	res, err := q.ExecContext(ctx, `UPDATE services SET title=?, category=?, description=?, updated_at=? WHERE id=?`,
		s.Title, string(s.Category), s.Description, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM sections WHERE service_id=?`, s.ID); err != nil {
		return fmt.Errorf("clear sections: %w", err)
	}
	return r.insertSections(ctx, q, s)
}

func (r Repo) insertSections(ctx context.Context, q querier, s domain.Service) error {
	for _, sec := range s.Sections {
		if _, err := q.ExecContext(ctx, `INSERT INTO sections(id,service_id,title,is_optional,is_alternative,position) VALUES (?,?,?,?,?,?)`,
			sec.ID, s.ID, sec.Title, sec.IsOptional, sec.IsAlternative, sec.Position); err != nil {
			return fmt.Errorf("insert section %s: %w", sec.ID, err)
		}
		for _, it := range sec.Items {
			tags, err := encodeTags(it.Tags)
			if err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx, `INSERT INTO items(id,section_id,text,observation,tags_json,is_optional,position) VALUES (?,?,?,?,?,?,?)`,
				it.ID, sec.ID, it.Text, nullable(it.Observation), tags, it.IsOptional, it.Position); err != nil {
				return fmt.Errorf("insert item %s: %w", it.ID, err)
			}
		}
	}
	return nil
}

// DeleteService removes a service; sections and items go with it.
func (r Repo) DeleteService(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM services WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSection returns a section row without items.
func (r Repo) GetSection(ctx context.Context, tx *sql.Tx, id string) (domain.Section, error) {
	var sec domain.Section
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,service_id,title,is_optional,is_alternative,position FROM sections WHERE id=?`, id).
		Scan(&sec.ID, &sec.ServiceID, &sec.Title, &sec.IsOptional, &sec.IsAlternative, &sec.Position)
	if err == sql.ErrNoRows {
		return sec, ErrNotFound
	}
	return sec, err
}

// SectionIDs lists a service's section ids in position order.
func (r Repo) SectionIDs(ctx context.Context, tx *sql.Tx, serviceID string) ([]string, error) {
	return r.ids(ctx, r.q(tx), `SELECT id FROM sections WHERE service_id=? ORDER BY position ASC, id ASC`, serviceID)
}

// ItemIDs lists a section's item ids in position order.
func (r Repo) ItemIDs(ctx context.Context, tx *sql.Tx, sectionID string) ([]string, error) {
	return r.ids(ctx, r.q(tx), `SELECT id FROM items WHERE section_id=? ORDER BY position ASC, id ASC`, sectionID)
}

func (r Repo) ids(ctx context.Context, q querier, query string, arg string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateSectionPositions sets position = index for each id.
func (r Repo) UpdateSectionPositions(ctx context.Context, tx *sql.Tx, ids []string) error {
	return r.updatePositions(ctx, r.q(tx), "sections", ids)
}

// UpdateItemPositions sets position = index for each id.
func (r Repo) UpdateItemPositions(ctx context.Context, tx *sql.Tx, ids []string) error {
	return r.updatePositions(ctx, r.q(tx), "items", ids)
}

func (r Repo) updatePositions(ctx context.Context, q querier, table string, ids []string) error {
	query := fmt.Sprintf(`UPDATE %s SET position=? WHERE id=?`, table)
	for i, id := range ids {
		res, err := q.ExecContext(ctx, query, i, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrNotFound)
		}
	}
	return nil
}

// TouchService bumps updated_at.
func (r Repo) TouchService(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE services SET updated_at=? WHERE id=?`, now, id)
	return err
}

// CountServices returns the number of catalog entries.
func (r Repo) CountServices(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM services`).Scan(&n)
	return n, err
}

func encodeTags(tags []domain.Tag) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

// decodeTags treats a missing or null collection as empty.
func decodeTags(raw sql.NullString) ([]domain.Tag, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var tags []domain.Tag
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
