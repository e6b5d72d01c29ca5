package engine_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ckdt/internal/db"
	"ckdt/internal/domain"
	"ckdt/internal/engine"
	"ckdt/internal/engine/auth"
	"ckdt/internal/migrate"
	"ckdt/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  auth.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.EnsureAdmin(ctx, "Admin", "admin@detran.gov.br", "Segura@123"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	admin, err := eng.Login(ctx, "admin@detran.gov.br", "Segura@123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Admin: auth.Actor{ID: admin.ID, IsAdmin: true}}
}

func transferInput() engine.ServiceInput {
	return engine.ServiceInput{
		Title:       "Transferência de Propriedade",
		Category:    domain.CategoryVehicle,
		Description: "Transferência de veículo entre proprietários",
		Sections: []engine.SectionInput{
			{Title: "Documentos do veículo", Items: []engine.ItemInput{
				{Text: "CRV assinado", Tags: []domain.Tag{domain.TagOriginal}},
				{Text: "Laudo de vistoria", Observation: "Válido por 30 dias"},
			}},
			{Title: "Identificação", IsAlternative: true, Items: []engine.ItemInput{
				{Text: "RG"},
				{Text: "CNH"},
			}},
			{Title: "Procuração", IsOptional: true, Items: []engine.ItemInput{
				{Text: "Procuração com firma reconhecida"},
			}},
		},
	}
}

func TestCreateServiceAssignsIDsAndPositions(t *testing.T) {
	env := newTestEnv(t)
	svc, err := env.Engine.CreateService(env.Ctx, env.Admin, transferInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := env.Engine.GetService(env.Ctx, svc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(got.Sections))
	}
	for i, s := range got.Sections {
		if s.ID == "" || s.Position != i {
			t.Fatalf("section %d: id=%q position=%d", i, s.ID, s.Position)
		}
	}
	if !got.Sections[1].IsAlternative || !got.Sections[2].IsOptional {
		t.Fatalf("flags lost: %+v", got.Sections)
	}
	if got.Sections[0].Items[0].Tags[0] != domain.TagOriginal {
		t.Fatalf("tags lost: %+v", got.Sections[0].Items[0])
	}
	if got.Sections[0].Items[1].Observation != "Válido por 30 dias" {
		t.Fatalf("observation lost")
	}
}

func TestCreateServiceValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]func(in *engine.ServiceInput){
		"short title":       func(in *engine.ServiceInput) { in.Title = "ab" },
		"short description": func(in *engine.ServiceInput) { in.Description = "curta" },
		"bad category":      func(in *engine.ServiceInput) { in.Category = "Barcos" },
		"no sections":       func(in *engine.ServiceInput) { in.Sections = nil },
		"blank section":     func(in *engine.ServiceInput) { in.Sections[0].Title = "  " },
		"blank item":        func(in *engine.ServiceInput) { in.Sections[0].Items[0].Text = "" },
		"unknown tag":       func(in *engine.ServiceInput) { in.Sections[0].Items[0].Tags = []domain.Tag{"Carimbado"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := transferInput()
			mutate(&in)
			_, err := env.Engine.CreateService(env.Ctx, env.Admin, in)
			if !errors.Is(err, engine.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestCatalogWritesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	viewer := auth.Actor{ID: "someone"}
	_, err := env.Engine.CreateService(env.Ctx, viewer, transferInput())
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := env.Engine.DeleteService(env.Ctx, auth.Actor{}, "x"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for anonymous, got %v", err)
	}
}

func TestUpdateServicePreservesIDs(t *testing.T) {
	env := newTestEnv(t)
	svc, err := env.Engine.CreateService(env.Ctx, env.Admin, transferInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	in := transferInput()
	// section matched by title, item by index
	in.Sections[0].Items[1].Text = "Laudo de vistoria ECV"
	// section matched by id despite rename, new item appended
	in.Sections[1].ID = svc.Sections[1].ID
	in.Sections[1].Title = "Documento de identidade"
	in.Sections[1].Items = append(in.Sections[1].Items, engine.ItemInput{Text: "Passaporte"})
	// dropped section and a brand new one
	in.Sections[2] = engine.SectionInput{Title: "Comprovantes", Items: []engine.ItemInput{{Text: "Comprovante de residência"}}}

	upd, err := env.Engine.UpdateService(env.Ctx, env.Admin, svc.ID, in)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Sections[0].ID != svc.Sections[0].ID || upd.Sections[0].Items[1].ID != svc.Sections[0].Items[1].ID {
		t.Fatalf("first section ids changed")
	}
	if upd.Sections[1].ID != svc.Sections[1].ID || upd.Sections[1].Items[0].ID != svc.Sections[1].Items[0].ID {
		t.Fatalf("renamed section lost its ids")
	}
	if upd.Sections[1].Items[2].ID == "" {
		t.Fatalf("new item without id")
	}
	if upd.Sections[2].ID == svc.Sections[2].ID {
		t.Fatalf("new section reused a dropped id")
	}
	stored, err := env.Engine.GetService(env.Ctx, svc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Sections[0].Items[1].Text != "Laudo de vistoria ECV" || stored.Sections[1].Title != "Documento de identidade" {
		t.Fatalf("update not stored: %+v", stored.Sections)
	}
	if stored.CreatedAt != svc.CreatedAt {
		t.Fatalf("created_at changed")
	}
}

func TestUpdateMissingService(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpdateService(env.Ctx, env.Admin, "missing", transferInput())
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDuplicateService(t *testing.T) {
	env := newTestEnv(t)
	svc, err := env.Engine.CreateService(env.Ctx, env.Admin, transferInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	dup, err := env.Engine.DuplicateService(env.Ctx, env.Admin, svc.ID)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if dup.ID == svc.ID || dup.Title != svc.Title+" (cópia)" {
		t.Fatalf("unexpected duplicate %q %q", dup.ID, dup.Title)
	}
	for i := range dup.Sections {
		if dup.Sections[i].ID == svc.Sections[i].ID {
			t.Fatalf("section %d shares an id", i)
		}
		if len(dup.Sections[i].Items) != len(svc.Sections[i].Items) {
			t.Fatalf("section %d items differ", i)
		}
	}
	list, err := env.Engine.ListServices(env.Ctx, engine.ServiceQuery{})
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v %d", err, len(list))
	}
}

func TestDeleteServiceCascades(t *testing.T) {
	env := newTestEnv(t)
	svc, err := env.Engine.CreateService(env.Ctx, env.Admin, transferInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.DeleteService(env.Ctx, env.Admin, svc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetService(env.Ctx, svc.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var n int
	if err := env.Engine.DB.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("items left behind: %d %v", n, err)
	}
	if err := env.Engine.DeleteService(env.Ctx, env.Admin, svc.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestReorderSectionsAndItems(t *testing.T) {
	env := newTestEnv(t)
	svc, err := env.Engine.CreateService(env.Ctx, env.Admin, transferInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ids := []string{svc.Sections[2].ID, svc.Sections[0].ID, svc.Sections[1].ID}
	got, err := env.Engine.ReorderSections(env.Ctx, env.Admin, svc.ID, ids)
	if err != nil {
		t.Fatalf("reorder sections: %v", err)
	}
	for i, id := range ids {
		if got.Sections[i].ID != id {
			t.Fatalf("position %d: got %s want %s", i, got.Sections[i].ID, id)
		}
	}

	sec := svc.Sections[1]
	got, err = env.Engine.ReorderItems(env.Ctx, env.Admin, sec.ID, []string{sec.Items[1].ID, sec.Items[0].ID})
	if err != nil {
		t.Fatalf("reorder items: %v", err)
	}
	if got.Sections[2].Items[0].ID != sec.Items[1].ID {
		t.Fatalf("items not reordered: %+v", got.Sections[2].Items)
	}

	bad := [][]string{
		ids[:2],
		{ids[0], ids[0], ids[1]},
		{ids[0], ids[1], "stranger"},
	}
	for _, b := range bad {
		if _, err := env.Engine.ReorderSections(env.Ctx, env.Admin, svc.ID, b); !errors.Is(err, engine.ErrInvalid) {
			t.Fatalf("expected ErrInvalid for %v, got %v", b, err)
		}
	}
	if _, err := env.Engine.ReorderItems(env.Ctx, env.Admin, "missing", nil); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListServicesFilters(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateService(env.Ctx, env.Admin, transferInput()); err != nil {
		t.Fatalf("create: %v", err)
	}
	cnh := engine.ServiceInput{
		Title:       "Renovação de CNH",
		Category:    domain.CategoryLicense,
		Description: "Renovação da carteira de habilitação",
		Sections:    []engine.SectionInput{{Title: "Exames", Items: []engine.ItemInput{{Text: "Exame médico"}}}},
	}
	if _, err := env.Engine.CreateService(env.Ctx, env.Admin, cnh); err != nil {
		t.Fatalf("create: %v", err)
	}
	cases := []struct {
		q    engine.ServiceQuery
		want int
	}{
		{engine.ServiceQuery{}, 2},
		{engine.ServiceQuery{Category: domain.CategoryLicense}, 1},
		{engine.ServiceQuery{Text: "renovacao"}, 1},
		{engine.ServiceQuery{Text: "EXAME medico"}, 1},
		{engine.ServiceQuery{Text: "vistoria"}, 1},
		{engine.ServiceQuery{Text: "barco"}, 0},
		{engine.ServiceQuery{Category: domain.CategoryVehicle, Text: "exame"}, 0},
	}
	for _, tc := range cases {
		got, err := env.Engine.ListServices(env.Ctx, tc.q)
		if err != nil {
			t.Fatalf("list %+v: %v", tc.q, err)
		}
		if len(got) != tc.want {
			t.Fatalf("list %+v: got %d want %d", tc.q, len(got), tc.want)
		}
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	doc := `services:
  - id: svc-transfer
    title: Transferência de Propriedade
    category: Veículo
    description: Transferência de veículo entre proprietários
    sections:
      - title: Documentos
        items:
          - text: CRV
            tags: [Original]
          - text: RG
            alternative_of: ident
          - text: CNH
            alternative_of: ident
`
	cat, err := engine.ParseCatalog(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := env.Engine.ImportCatalog(env.Ctx, env.Admin, cat)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Created != 1 || res.Updated != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	svc, err := env.Engine.GetService(env.Ctx, "svc-transfer")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(svc.Sections) != 2 || !svc.Sections[1].IsAlternative || len(svc.Sections[1].Items) != 2 {
		t.Fatalf("legacy group not normalized: %+v", svc.Sections)
	}

	exported, err := env.Engine.ExportCatalog(env.Ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var buf bytes.Buffer
	if err := engine.WriteCatalog(&buf, exported); err != nil {
		t.Fatalf("write: %v", err)
	}
	again, err := engine.ParseCatalog(&buf)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	res, err = env.Engine.ImportCatalog(env.Ctx, env.Admin, again)
	if err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 {
		t.Fatalf("unexpected reimport %+v", res)
	}
	after, err := env.Engine.GetService(env.Ctx, "svc-transfer")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i := range svc.Sections {
		if after.Sections[i].ID != svc.Sections[i].ID {
			t.Fatalf("section %d id changed on reimport", i)
		}
		for j := range svc.Sections[i].Items {
			if after.Sections[i].Items[j].ID != svc.Sections[i].Items[j].ID {
				t.Fatalf("item %d/%d id changed on reimport", i, j)
			}
		}
	}
}

func TestImportRejectsInvalidEntries(t *testing.T) {
	env := newTestEnv(t)
	cat := engine.Catalog{Services: []engine.CatalogService{{ServiceInput: engine.ServiceInput{Title: "x"}}}}
	if _, err := env.Engine.ImportCatalog(env.Ctx, env.Admin, cat); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := engine.ParseCatalog(strings.NewReader("services:\n  - nope: 1\n")); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("unknown field accepted: %v", err)
	}
}

func TestLoginAndUsers(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Login(env.Ctx, "admin@detran.gov.br", "wrong"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "nobody@detran.gov.br", "Segura@123"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "ADMIN@detran.gov.br", "Segura@123"); err != nil {
		t.Fatalf("case-insensitive login: %v", err)
	}

	if _, err := env.Engine.CreateUser(env.Ctx, env.Admin, engine.UserInput{Name: "Ana", Email: "ana@detran.gov.br", Password: "fraca"}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("weak password accepted: %v", err)
	}
	ana, err := env.Engine.CreateUser(env.Ctx, env.Admin, engine.UserInput{Name: "Ana", Email: "ana@detran.gov.br", Password: "Forte#2024"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := env.Engine.CreateUser(env.Ctx, env.Admin, engine.UserInput{Name: "Ana", Email: "Ana@detran.gov.br", Password: "Forte#2024"}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("duplicate email accepted: %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.ListUsers(env.Ctx, auth.Actor{ID: ana.ID}); !errors.As(err, &forbidden) {
		t.Fatalf("non-admin listed users: %v", err)
	}
	users, err := env.Engine.ListUsers(env.Ctx, env.Admin)
	if err != nil || len(users) != 2 {
		t.Fatalf("list users: %v %d", err, len(users))
	}

	if err := env.Engine.RemoveUser(env.Ctx, env.Admin, env.Admin.ID); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("removed self: %v", err)
	}
	if err := env.Engine.RemoveUser(env.Ctx, env.Admin, ana.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "ana@detran.gov.br", "Forte#2024"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("removed user logged in: %v", err)
	}
}

func TestLastAdminCannotBeRemoved(t *testing.T) {
	env := newTestEnv(t)
	second, err := env.Engine.CreateUser(env.Ctx, env.Admin, engine.UserInput{Name: "Bruno", Email: "bruno@detran.gov.br", Password: "Forte#2024", IsAdmin: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	other := auth.Actor{ID: second.ID, IsAdmin: true}
	if err := env.Engine.RemoveUser(env.Ctx, other, env.Admin.ID); err != nil {
		t.Fatalf("remove first admin: %v", err)
	}
	// a stale session of the removed admin still cannot take out the last one
	if err := env.Engine.RemoveUser(env.Ctx, env.Admin, second.ID); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("last admin removed: %v", err)
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.EnsureAdmin(env.Ctx, "", "other@detran.gov.br", "Segura@123")
	if err != nil || created {
		t.Fatalf("second bootstrap: created=%v err=%v", created, err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.ChangePassword(env.Ctx, env.Admin, "wrong", "Nova@2024x"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := env.Engine.ChangePassword(env.Ctx, env.Admin, "Segura@123", "short"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
	if err := env.Engine.ChangePassword(env.Ctx, env.Admin, "Segura@123", "Nova@2024x"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "admin@detran.gov.br", "Nova@2024x"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	plain, key, err := env.Engine.CreateAPIKey(env.Ctx, env.Admin, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(plain, engine.APIKeyPrefix) || key.KeyHash == plain {
		t.Fatalf("unexpected key material")
	}
	actor, _, err := env.Engine.ResolveAPIKey(env.Ctx, plain)
	if err != nil || actor.ID != env.Admin.ID || !actor.IsAdmin {
		t.Fatalf("resolve: %+v %v", actor, err)
	}
	keys, err := env.Engine.ListAPIKeys(env.Ctx, env.Admin)
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v %d", err, len(keys))
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, env.Admin, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := env.Engine.ResolveAPIKey(env.Ctx, plain); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("revoked key still resolves: %v", err)
	}
}

func TestMutationsAreAudited(t *testing.T) {
	env := newTestEnv(t)
	svc, err := env.Engine.CreateService(env.Ctx, env.Admin, transferInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.DeleteService(env.Ctx, env.Admin, svc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, env.Admin, engine.EventQuery{EventFilter: repo.EventFilter{EntityID: svc.ID}})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 2 || evts[0].Type != "service.deleted" || evts[1].Type != "service.created" {
		t.Fatalf("unexpected events %+v", evts)
	}
	if evts[0].ActorID != env.Admin.ID {
		t.Fatalf("actor not recorded: %s", evts[0].ActorID)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.ListEvents(env.Ctx, auth.Actor{ID: "x"}, engine.EventQuery{}); !errors.As(err, &forbidden) {
		t.Fatalf("non-admin read events: %v", err)
	}
}
