//go:build integration

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/orchestrator"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
)

func setupMachineTest(t *testing.T) (*store.GORMStore, http.Handler) {
	t.Helper()

	cpStore, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	orch := orchestrator.New(orchestrator.Config{ServerIP: "192.168.1.1"}, cpStore, nil, nil, nil)
	handler := NewMachineHandler(cpStore, orch)

	r := chi.NewRouter()
	r.Post("/api/v1/machines", handler.Create)
	r.Get("/api/v1/machines", handler.List)
	r.Post("/api/v1/machines/report", handler.Report)
	r.Get("/api/v1/machines/{id}", handler.Get)
	r.Patch("/api/v1/machines/{id}", handler.Update)
	r.Delete("/api/v1/machines/{id}", handler.Delete)
	return cpStore, r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMachineHandler_Create(t *testing.T) {
	_, router := setupMachineTest(t)

	t.Run("valid machine", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/machines", CreateMachineRequest{
			Name: "pc-01",
			MAC:  "AA-BB-CC-00-00-01",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}

		var machine models.Machine
		if err := json.Unmarshal(rec.Body.Bytes(), &machine); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if machine.MAC != "aa:bb:cc:00:00:01" {
			t.Errorf("MAC = %q, want canonical lowercase colons", machine.MAC)
		}
		if machine.Status != string(models.MachineActive) {
			t.Errorf("status = %q, want active default", machine.Status)
		}
		if machine.BootMode != string(models.BootModeUEFI) {
			t.Errorf("boot mode = %q, want uefi default", machine.BootMode)
		}
	})

	t.Run("duplicate MAC", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/machines", CreateMachineRequest{
			Name: "pc-02",
			MAC:  "aa:bb:cc:00:00:01",
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("invalid MAC", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/machines", CreateMachineRequest{
			Name: "pc-03",
			MAC:  "not-a-mac",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestMachineHandler_GetAndDelete(t *testing.T) {
	cpStore, router := setupMachineTest(t)

	machine := &models.Machine{
		Name:     "pc-10",
		MAC:      "aa:bb:cc:00:00:10",
		BootMode: string(models.BootModeUEFI),
		Status:   string(models.MachineActive),
	}
	if err := cpStore.CreateMachine(context.Background(), machine); err != nil {
		t.Fatalf("Failed to create machine: %v", err)
	}

	t.Run("get existing", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/v1/machines/1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("get missing", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/v1/machines/999", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("bad id", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/api/v1/machines/banana", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodDelete, "/api/v1/machines/1", nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
		}
		rec = doJSON(t, router, http.MethodGet, "/api/v1/machines/1", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status after delete = %d, want 404", rec.Code)
		}
	})
}

func TestMachineHandler_Report(t *testing.T) {
	cpStore, router := setupMachineTest(t)

	t.Run("unknown MAC is auto-discovered", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/machines/report", ReportRequest{
			MAC:      "DE-AD-BE-EF-00-01",
			Hostname: "lab-pc-7",
			IP:       "192.168.1.107",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}

		machine, err := cpStore.GetMachineByMAC(context.Background(), "de:ad:be:ef:00:01")
		if err != nil {
			t.Fatalf("Discovered machine not found: %v", err)
		}
		if machine.Name != "discovered-deadbeef0001" {
			t.Errorf("name = %q, want discovered-deadbeef0001", machine.Name)
		}
		if machine.Status != string(models.MachineInactive) {
			t.Errorf("status = %q, want inactive for discovered machines", machine.Status)
		}
		if machine.Hostname != "lab-pc-7" {
			t.Errorf("hostname = %q, want lab-pc-7", machine.Hostname)
		}
	})

	t.Run("known MAC refreshes hostname and marks online", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/machines/report", ReportRequest{
			MAC:      "de:ad:be:ef:00:01",
			Hostname: "lab-pc-7-renamed",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}

		machine, err := cpStore.GetMachineByMAC(context.Background(), "de:ad:be:ef:00:01")
		if err != nil {
			t.Fatalf("Failed to fetch machine: %v", err)
		}
		if machine.Hostname != "lab-pc-7-renamed" {
			t.Errorf("hostname = %q, want refreshed value", machine.Hostname)
		}
		if machine.LastSeen == nil {
			t.Error("Expected LastSeen to be set after report")
		}
	})

	t.Run("invalid MAC", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/machines/report", ReportRequest{
			MAC: "zz:zz",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}
