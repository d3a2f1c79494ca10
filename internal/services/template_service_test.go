package services

import (
	"context"
	"testing"

	"convodesk/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTemplateTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.MessageTemplate{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestTemplateService_CreateExtractsVariables(t *testing.T) {
	svc := NewTemplateService(newTemplateTestDB(t), nil)

	tpl, err := svc.Create(context.Background(), "ws1", &TemplateCreateRequest{
		Name:    "welcome",
		Content: "Hi {{name}}, your ticket {{ticket_id}} is open.",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if tpl.Variables != `["name","ticket_id"]` {
		t.Fatalf("unexpected variables: %s", tpl.Variables)
	}
	if tpl.Language != "en" {
		t.Fatalf("expected default language en, got %s", tpl.Language)
	}
}

func TestTemplateService_ListScopedAndCached(t *testing.T) {
	db := newTemplateTestDB(t)
	svc := NewTemplateService(db, nil)

	_, _ = svc.Create(context.Background(), "ws1", &TemplateCreateRequest{Name: "a", Content: "x", Category: "greeting"})
	_, _ = svc.Create(context.Background(), "ws1", &TemplateCreateRequest{Name: "b", Content: "y", Category: "closing"})
	_, _ = svc.Create(context.Background(), "ws2", &TemplateCreateRequest{Name: "c", Content: "z", Category: "greeting"})

	all, err := svc.List(context.Background(), "ws1", "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 templates for ws1, got %d", len(all))
	}

	greetings, err := svc.List(context.Background(), "ws1", "greeting")
	if err != nil {
		t.Fatalf("List by category failed: %v", err)
	}
	if len(greetings) != 1 || greetings[0].Name != "a" {
		t.Fatalf("unexpected category filter result: %+v", greetings)
	}

	// a direct table write is invisible until a service write invalidates
	db.Create(&models.MessageTemplate{OwnerID: "ws1", Name: "ghost", Content: "g"})
	cached, _ := svc.List(context.Background(), "ws1", "")
	if len(cached) != 2 {
		t.Fatalf("expected cached result, got %d", len(cached))
	}

	_, _ = svc.Create(context.Background(), "ws1", &TemplateCreateRequest{Name: "d", Content: "w"})
	fresh, _ := svc.List(context.Background(), "ws1", "")
	if len(fresh) != 4 {
		t.Fatalf("expected cache invalidation after write, got %d", len(fresh))
	}
}

func TestTemplateService_UpdateReextractsVariables(t *testing.T) {
	svc := NewTemplateService(newTemplateTestDB(t), nil)

	tpl, err := svc.Create(context.Background(), "ws1", &TemplateCreateRequest{
		Name:    "welcome",
		Content: "Hi {{name}}",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	content := "Hi {{first_name}} {{last_name}}"
	updated, err := svc.Update(context.Background(), "ws1", tpl.ID, &TemplateUpdateRequest{Content: &content})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Variables != `["first_name","last_name"]` {
		t.Fatalf("unexpected variables after update: %s", updated.Variables)
	}
}

func TestTemplateService_UpdateWrongOwner(t *testing.T) {
	svc := NewTemplateService(newTemplateTestDB(t), nil)

	tpl, _ := svc.Create(context.Background(), "ws1", &TemplateCreateRequest{Name: "w", Content: "x"})
	name := "stolen"
	if _, err := svc.Update(context.Background(), "ws2", tpl.ID, &TemplateUpdateRequest{Name: &name}); err == nil {
		t.Fatal("expected error updating another owner's template")
	}
}

func TestTemplateService_Delete(t *testing.T) {
	svc := NewTemplateService(newTemplateTestDB(t), nil)

	tpl, _ := svc.Create(context.Background(), "ws1", &TemplateCreateRequest{Name: "w", Content: "x"})
	if err := svc.Delete(context.Background(), "ws1", tpl.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := svc.Delete(context.Background(), "ws1", tpl.ID); err == nil {
		t.Fatal("expected error deleting missing template")
	}
}

func TestTemplateService_Render(t *testing.T) {
	svc := NewTemplateService(newTemplateTestDB(t), nil)

	tpl, _ := svc.Create(context.Background(), "ws1", &TemplateCreateRequest{
		Name:    "welcome",
		Content: "Hi {{name}}, ref {{ref}}",
	})

	out, err := svc.Render(context.Background(), "ws1", tpl.ID, map[string]string{"name": "Ada", "ref": "42"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out != "Hi Ada, ref 42" {
		t.Fatalf("unexpected render output: %q", out)
	}

	// unprovided variables stay in place
	partial, err := svc.Render(context.Background(), "ws1", tpl.ID, map[string]string{"name": "Ada"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if partial != "Hi Ada, ref {{ref}}" {
		t.Fatalf("unexpected partial render: %q", partial)
	}
}

func TestExtractVariables(t *testing.T) {
	tests := []struct {
		content string
		want    []string
	}{
		{"no vars", nil},
		{"{{a}} {{b}} {{a}}", []string{"a", "b"}},
		{"{{ spaced }}", []string{"spaced"}},
		{"{{}}", nil},
	}
	for _, tt := range tests {
		got := ExtractVariables(tt.content)
		if len(got) != len(tt.want) {
			t.Fatalf("ExtractVariables(%q) = %v, want %v", tt.content, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("ExtractVariables(%q) = %v, want %v", tt.content, got, tt.want)
			}
		}
	}
}

func TestValidateVariables(t *testing.T) {
	content := "Hi {{name}}, ref {{ref}}"
	if !ValidateVariables(content, map[string]string{"name": "a", "ref": "b"}) {
		t.Fatal("expected complete variables to validate")
	}
	if ValidateVariables(content, map[string]string{"name": "a"}) {
		t.Fatal("expected missing variable to fail validation")
	}
}
