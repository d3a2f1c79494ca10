package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"convodesk/internal/models"
	"convodesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func newTemplateTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:template_" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.MessageTemplate{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	router := gin.New()
	api := router.Group("/api")
	api.Use(testOwner("ws1"))
	RegisterTemplateRoutes(api, NewTemplateHandler(services.NewTemplateService(db, testLogger()), testLogger()))
	return router, db
}

func createTemplate(t *testing.T, router *gin.Engine, name, content string) models.MessageTemplate {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"name":     name,
		"category": "greeting",
		"content":  content,
	})
	req := httptest.NewRequest("POST", "/api/templates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create template: status %d body %s", w.Code, w.Body.String())
	}
	var tpl models.MessageTemplate
	if err := json.Unmarshal(w.Body.Bytes(), &tpl); err != nil {
		t.Fatalf("decode template: %v", err)
	}
	return tpl
}

func TestTemplateHandler_CreateExtractsVariables(t *testing.T) {
	router, _ := newTemplateTestRouter(t)

	tpl := createTemplate(t, router, "welcome", "Hi {{name}}, ticket {{ticket_id}} is open")

	var vars []string
	assert.NoError(t, json.Unmarshal([]byte(tpl.Variables), &vars))
	assert.Equal(t, []string{"name", "ticket_id"}, vars)
}

func TestTemplateHandler_ListAndGet(t *testing.T) {
	router, _ := newTemplateTestRouter(t)

	created := createTemplate(t, router, "welcome", "Hi {{name}}")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/templates?category=greeting", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var list []models.MessageTemplate
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/templates/"+created.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/templates/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplateHandler_UpdateMissingReturns404(t *testing.T) {
	router, _ := newTemplateTestRouter(t)

	body, _ := json.Marshal(map[string]string{"content": "new"})
	req := httptest.NewRequest("PUT", "/api/templates/missing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplateHandler_Render(t *testing.T) {
	router, _ := newTemplateTestRouter(t)

	created := createTemplate(t, router, "welcome", "Hi {{name}}")

	body, _ := json.Marshal(renderRequest{Variables: map[string]string{"name": "Ada"}})
	req := httptest.NewRequest("POST", "/api/templates/"+created.ID+"/render", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Hi Ada", resp["content"])
}

func TestTemplateHandler_Delete(t *testing.T) {
	router, db := newTemplateTestRouter(t)

	created := createTemplate(t, router, "welcome", "Hi {{name}}")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/templates/"+created.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Model(&models.MessageTemplate{}).Where("id = ?", created.ID).Count(&count)
	assert.Equal(t, int64(0), count)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/templates/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
