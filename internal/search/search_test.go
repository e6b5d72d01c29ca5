package search

import (
	"testing"

	"ckdt/internal/domain"
)

func TestFold(t *testing.T) {
	cases := map[string]string{
		"Habilitação":      "habilitacao",
		"  Veículo ":       "veiculo",
		"Original e Cópia": "original e copia",
		"":                 "",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	for in, want := range map[string]domain.Category{
		"veiculo":     domain.CategoryVehicle,
		"HABILITAÇÃO": domain.CategoryLicense,
		"infracoes":   domain.CategoryInfractions,
		"Outros":      domain.CategoryOther,
	} {
		got, ok := ParseCategory(in)
		if !ok || got != want {
			t.Errorf("ParseCategory(%q) = %q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseCategory("barco"); ok {
		t.Fatalf("unknown category accepted")
	}
}

func TestMatchIsAccentInsensitive(t *testing.T) {
	svc := domain.Service{
		Title:       "Transferência de Propriedade",
		Description: "Documentação para transferir um veículo.",
		Category:    domain.CategoryVehicle,
		Sections: []domain.Section{{
			Title: "Identificação",
			Items: []domain.Item{{Text: "CNH"}},
		}},
	}
	for _, q := range []string{"transferencia", "VEICULO documentacao", "cnh", "identificacao", ""} {
		if !Match(svc, q) {
			t.Errorf("expected %q to match", q)
		}
	}
	if Match(svc, "transferencia multa") {
		t.Errorf("all tokens must match")
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	services := []domain.Service{
		{ID: "1", Title: "Licenciamento anual"},
		{ID: "2", Title: "Recurso de multa"},
		{ID: "3", Title: "Segunda via do licenciamento"},
	}
	got := Filter(services, "licenciamento")
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
	if len(Filter(services, "  ")) != 3 {
		t.Fatalf("blank query must keep everything")
	}
}
