package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

type ExportData struct {
	Meta       RunMetadata   `json:"meta"`
	Positions  []dynamo.Vec4 `json:"positions"`
	Velocities []dynamo.Vec4 `json:"velocities"`
	Masses     []float32     `json:"masses"`
}

// ExportJSON writes a run's metadata and snapshot as one JSON document.
func ExportJSON(w io.Writer, meta RunMetadata, b *dynamo.Bodies) error {
	if err := b.Validate(); err != nil {
		return err
	}
	data := ExportData{
		Meta:       meta,
		Positions:  b.Positions,
		Velocities: b.Velocities,
		Masses:     b.Masses,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func ExportJSONFile(path string, meta RunMetadata, b *dynamo.Bodies) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return ExportJSON(file, meta, b)
}
