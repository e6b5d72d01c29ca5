package app

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ckdt/internal/config"
	"ckdt/internal/engine"
)

func TestBootstrapSeedsOnce(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Auth.Admin.Email = "admin@detran.gov.br"
	cfg.Auth.Admin.Password = "Segura@123"
	conn, eng, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	var logs bytes.Buffer
	logger := log.New(&logs, "", 0)

	if err := Bootstrap(ctx, eng, cfg, logger); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	list, err := eng.ListServices(ctx, engine.ServiceQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("expected the 5 built-in services, got %d", len(list))
	}
	if _, err := eng.Login(ctx, "admin@detran.gov.br", "Segura@123"); err != nil {
		t.Fatalf("admin login: %v", err)
	}

	if err := Bootstrap(ctx, eng, cfg, logger); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	list, _ = eng.ListServices(ctx, engine.ServiceQuery{})
	if len(list) != 5 {
		t.Fatalf("catalog seeded twice: %d", len(list))
	}
	if strings.Count(logs.String(), "seeded") != 1 {
		t.Fatalf("unexpected logs: %s", logs.String())
	}
}

func TestBootstrapCustomSeedWithoutAdmin(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yml")
	doc := "services:\n  - title: Segunda via de CRLV\n    category: Veículo\n    description: Emissão da segunda via do documento\n    sections:\n      - title: Documentos\n        items:\n          - text: CNH\n"
	if err := os.WriteFile(seedPath, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Catalog.SeedFile = seedPath
	conn, eng, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	var logs bytes.Buffer
	if err := Bootstrap(context.Background(), eng, cfg, log.New(&logs, "", 0)); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	list, _ := eng.ListServices(context.Background(), engine.ServiceQuery{})
	if len(list) != 1 || list[0].Title != "Segunda via de CRLV" {
		t.Fatalf("custom seed not used: %+v", list)
	}
	if !strings.Contains(logs.String(), "WARNING: no administrator") {
		t.Fatalf("missing warning: %s", logs.String())
	}
}
