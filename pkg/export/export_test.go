package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/storage/memory"
)

var fixedNow = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *memory.Storage {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	base := fixedNow.Add(-time.Hour).Unix()
	if _, err := store.InsertFields(ctx, base, sample.Repeater, sample.Fields{"bat": 3850, "nb_recv": 10}); err != nil {
		t.Fatalf("Failed to seed repeater: %v", err)
	}
	if _, err := store.InsertFields(ctx, base+60, sample.Companion, sample.Fields{"battery_mv": 4100}); err != nil {
		t.Fatalf("Failed to seed companion: %v", err)
	}
	return store
}

func TestExportToJSON(t *testing.T) {
	store := seedStore(t)
	exporter := NewExporter(store)
	exporter.now = func() time.Time { return fixedNow }

	buf := &bytes.Buffer{}
	result, err := exporter.ExportToJSON(context.Background(), buf, ExportOptions{
		Start: fixedNow.Add(-24 * time.Hour).Unix(),
		End:   fixedNow.Unix(),
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.SamplesExported != 3 {
		t.Errorf("Expected 3 samples exported, got %d", result.SamplesExported)
	}

	var backup Backup
	if err := json.Unmarshal(buf.Bytes(), &backup); err != nil {
		t.Fatalf("Failed to decode export: %v", err)
	}
	if backup.Metadata.Version != FormatVersion {
		t.Errorf("Expected version %s, got %s", FormatVersion, backup.Metadata.Version)
	}
	if backup.Metadata.SampleCount != len(backup.Samples) {
		t.Errorf("Metadata count %d does not match %d samples", backup.Metadata.SampleCount, len(backup.Samples))
	}
	if !strings.Contains(buf.String(), `"ts"`) {
		t.Error("Expected samples to carry the ts field")
	}
}

func TestExportToCSV(t *testing.T) {
	store := seedStore(t)
	exporter := NewExporter(store)

	buf := &bytes.Buffer{}
	_, err := exporter.ExportToCSV(context.Background(), buf, ExportOptions{
		Roles: []sample.Role{sample.Repeater},
		Start: fixedNow.Add(-24 * time.Hour).Unix(),
		End:   fixedNow.Unix(),
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	rows, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "timestamp,role,metric,value" {
		t.Errorf("Unexpected header: %v", rows[0])
	}
	if rows[1][1] != "repeater" || rows[1][2] != "bat" || rows[1][3] != "3850" {
		t.Errorf("Unexpected first row: %v", rows[1])
	}
}

func TestRoundTrip(t *testing.T) {
	src := seedStore(t)
	exporter := NewExporter(src)

	buf := &bytes.Buffer{}
	opts := ExportOptions{Start: 0, End: fixedNow.Unix()}
	if _, err := exporter.ExportToJSON(context.Background(), buf, opts); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	raw := buf.Bytes()

	dst := memory.New()
	defer dst.Close()
	importer := NewImporter(dst)

	result, err := importer.ImportFromJSON(context.Background(), bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.SamplesImported != 3 || result.BatchesWritten != 2 {
		t.Errorf("Expected 3 samples in 2 batches, got %d in %d", result.SamplesImported, result.BatchesWritten)
	}

	// A second restore is all duplicates
	again, err := importer.ImportFromJSON(context.Background(), bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Second import failed: %v", err)
	}
	if again.SamplesImported != 0 || again.Duplicates != 3 {
		t.Errorf("Expected 0 imported and 3 duplicates, got %d and %d", again.SamplesImported, again.Duplicates)
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	store := memory.New()
	defer store.Close()
	importer := NewImporter(store)
	importer.now = func() time.Time { return fixedNow }

	future := fixedNow.Add(48 * time.Hour).Unix()
	body := `{"samples": [
		{"ts": 1740000000, "role": "repeater", "metric": "bat", "value": 3800},
		{"ts": 1740000000, "role": "gateway", "metric": "bat", "value": 1},
		{"ts": 1740000000, "role": "repeater", "metric": "", "value": 1},
		{"ts": 0, "role": "repeater", "metric": "bat", "value": 1},
		{"ts": ` + jsonInt(future) + `, "role": "repeater", "metric": "bat", "value": 1},
		{"ts": 1740000000, "role": "repeater", "metric": "` + strings.Repeat("m", 300) + `", "value": 1}
	]}`

	result, err := importer.ImportFromJSON(context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.SamplesImported != 1 {
		t.Errorf("Expected 1 sample imported, got %d", result.SamplesImported)
	}
	if result.Rejected != 5 || len(result.Errors) != 5 {
		t.Errorf("Expected 5 rejections, got %d (%v)", result.Rejected, result.Errors)
	}
}

func TestImportEmpty(t *testing.T) {
	store := memory.New()
	defer store.Close()

	result, err := NewImporter(store).ImportFromJSON(context.Background(), strings.NewReader(`{"samples": []}`))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.TimeRange != "empty" {
		t.Errorf("Expected empty range, got %s", result.TimeRange)
	}
}

func TestHandleExport_Validation(t *testing.T) {
	h := NewHandler(seedStore(t), nil)

	tests := []struct {
		name  string
		query string
		code  int
	}{
		{name: "bad format", query: "?format=xml", code: http.StatusBadRequest},
		{name: "bad role", query: "?role=gateway", code: http.StatusBadRequest},
		{name: "bad time", query: "?start=yesterday", code: http.StatusBadRequest},
		{name: "inverted", query: "?start=200&end=100", code: http.StatusBadRequest},
		{name: "too wide", query: "?start=0&end=999999999", code: http.StatusBadRequest},
		{name: "csv", query: "?format=csv&role=companion", code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleExport(rec, httptest.NewRequest(http.MethodGet, "/v1/export"+tt.query, nil))
			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleImport(t *testing.T) {
	store := memory.New()
	defer store.Close()
	h := NewHandler(store, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/import",
		strings.NewReader(`{"samples": [{"ts": 1740000000, "role": "companion", "metric": "recv", "value": 5}]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleImport(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result ImportResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.SamplesImported != 1 {
		t.Errorf("Expected 1 sample imported, got %d", result.SamplesImported)
	}

	wrongType := httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	h.HandleImport(rec, wrongType)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected 415, got %d", rec.Code)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
