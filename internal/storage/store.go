package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

const (
	metadataFile = "metadata.json"
	bodiesFile   = "bodies.csv"
)

var bodiesHeader = []string{"index", "px", "py", "pz", "pw", "vx", "vy", "vz", "vw", "mass"}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	Preset    string             `json:"preset,omitempty"`
	Backend   string             `json:"backend"`
	Timestamp time.Time          `json:"timestamp"`
	Seed      uint64             `json:"seed"`
	Dt        float64            `json:"dt"`
	Frames    int                `json:"frames"`
	G         float64            `json:"g"`
	Bodies    int                `json:"bodies"`
	Elapsed   time.Duration      `json:"elapsed_ns"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Save writes meta and a snapshot of b into a new run directory and returns
// the run id. meta.ID, Timestamp and Bodies are filled in.
func (s *Store) Save(meta RunMetadata, b *dynamo.Bodies) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	meta.ID = fmt.Sprintf("%s_%d", meta.Kind, now.UnixNano())
	meta.Timestamp = now
	meta.Bodies = b.Len()

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	if err := writeMetadata(filepath.Join(runDir, metadataFile), &meta); err != nil {
		return "", err
	}
	if err := writeBodies(filepath.Join(runDir, bodiesFile), b); err != nil {
		return "", err
	}
	return meta.ID, nil
}

func writeMetadata(path string, meta *RunMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func writeBodies(path string, b *dynamo.Bodies) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(bodiesHeader); err != nil {
		return err
	}

	row := make([]string, len(bodiesHeader))
	for i := 0; i < b.Len(); i++ {
		row[0] = strconv.Itoa(i)
		for k := 0; k < 4; k++ {
			row[1+k] = formatFloat(b.Positions[i][k])
			row[5+k] = formatFloat(b.Velocities[i][k])
		}
		row[9] = formatFloat(b.Masses[i])
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// formatFloat prints the shortest text that parses back to the same float32.
func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadBodies reads the snapshot saved with runID. Rows must be complete and
// in index order.
func (s *Store) LoadBodies(runID string) (*dynamo.Bodies, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, bodiesFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(bodiesHeader)

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("storage: bodies.csv has no header")
	}
	records = records[1:]

	b := dynamo.NewBodies(len(records))
	for i, rec := range records {
		idx, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("storage: row %d: %w", i+1, err)
		}
		if idx != i {
			return nil, fmt.Errorf("storage: row %d has index %d", i+1, idx)
		}

		var vals [9]float32
		for k := range vals {
			v, err := strconv.ParseFloat(rec[1+k], 32)
			if err != nil {
				return nil, fmt.Errorf("storage: row %d column %s: %w", i+1, bodiesHeader[1+k], err)
			}
			vals[k] = float32(v)
		}
		b.Positions[i] = dynamo.Vec4{vals[0], vals[1], vals[2], vals[3]}
		b.Velocities[i] = dynamo.Vec4{vals[4], vals[5], vals[6], vals[7]}
		b.Masses[i] = vals[8]
	}
	return b, nil
}
