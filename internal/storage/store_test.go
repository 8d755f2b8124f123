package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/galaxy"
)

func testMeta() RunMetadata {
	return RunMetadata{
		Kind:    "galaxy",
		Backend: "host",
		Seed:    42,
		Dt:      1.0 / 60,
		Frames:  10,
		G:       2e-5,
		Metrics: map[string]float64{"momentum_drift": 1.5e-7},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	b, err := galaxy.Generate(galaxy.Params{
		MaxRadius: 1, MaxPhi: 0.1, Count: 50, Up: galaxy.DefaultParams().Up, G: 2e-5,
	}, galaxy.NewSource(3))
	if err != nil {
		t.Fatal(err)
	}
	b.Velocities[3][1] = float32(math.Pi) / 7

	runID, err := st.Save(testMeta(), b)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if runID == "" {
		t.Error("expected non-empty run id")
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.ID != runID || meta.Kind != "galaxy" || meta.Seed != 42 || meta.Bodies != 50 {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Metrics["momentum_drift"] != 1.5e-7 {
		t.Errorf("expected drift 1.5e-7, got %g", meta.Metrics["momentum_drift"])
	}

	loaded, err := st.LoadBodies(runID)
	if err != nil {
		t.Fatalf("load bodies failed: %v", err)
	}
	if loaded.Len() != b.Len() {
		t.Fatalf("expected %d bodies, got %d", b.Len(), loaded.Len())
	}
	for i := 0; i < b.Len(); i++ {
		if loaded.Positions[i] != b.Positions[i] || loaded.Velocities[i] != b.Velocities[i] || loaded.Masses[i] != b.Masses[i] {
			t.Fatalf("body %d did not round trip exactly", i)
		}
	}
}

func TestStoreSave_LengthMismatch(t *testing.T) {
	st := New(t.TempDir())
	b := dynamo.NewBodies(3)
	b.Masses = b.Masses[:2]

	if _, err := st.Save(testMeta(), b); !errors.Is(err, dynamo.ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestStoreList(t *testing.T) {
	st := New(t.TempDir())

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	for i := 0; i < 2; i++ {
		if _, err := st.Save(testMeta(), galaxy.UnitPoints()); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[1].Timestamp.Before(runs[0].Timestamp) {
		t.Error("runs not sorted by timestamp")
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	runID, err := st.Save(testMeta(), galaxy.UnitPoints())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for _, name := range []string{"metadata.json", "bodies.csv"} {
		if _, err := os.Stat(filepath.Join(tmpDir, runID, name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}
}

func TestLoadBodies_Corrupt(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)
	runDir := filepath.Join(tmpDir, "broken")
	if err := os.MkdirAll(runDir, 0755); err != nil {
		t.Fatal(err)
	}

	csv := "index,px,py,pz,pw,vx,vy,vz,vw,mass\n1,0,0,0,1,0,0,0,0,1\n"
	if err := os.WriteFile(filepath.Join(runDir, "bodies.csv"), []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := st.LoadBodies("broken"); err == nil {
		t.Error("expected error for out-of-order index")
	}
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	b := galaxy.UnitPoints()
	if err := ExportJSON(&buf, testMeta(), b); err != nil {
		t.Fatal(err)
	}

	var data ExportData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Positions) != 7 || data.Meta.Kind != "galaxy" {
		t.Errorf("unexpected export %+v", data.Meta)
	}
}
