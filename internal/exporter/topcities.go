package exporter

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"dvfcli/internal/aggregate"
)

//go:embed schemas/top_cities.schema.json
var topCitiesSchema []byte

const topCitiesSchemaURL = "top_cities.schema.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func topCitiesValidator() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource(topCitiesSchemaURL, bytes.NewReader(topCitiesSchema)); err != nil {
			compileErr = fmt.Errorf("add top cities schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(topCitiesSchemaURL)
	})
	return compiledSchema, compileErr
}

// TopCitiesDocument is the top_cities.json payload.
type TopCitiesDocument struct {
	ReferenceYear        int              `json:"reference_year"`
	MergeArrondissements bool             `json:"merge_arrondissements"`
	GeneratedAt          time.Time        `json:"generated_at"`
	Cities               []aggregate.City `json:"cities"`
}

// MarshalTopCities encodes doc and checks it against the embedded schema.
func MarshalTopCities(doc TopCitiesDocument) ([]byte, error) {
	if doc.Cities == nil {
		doc.Cities = []aggregate.City{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode top cities: %w", err)
	}
	if err := ValidateTopCities(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ValidateTopCities checks a top-cities document against the embedded schema.
func ValidateTopCities(data []byte) error {
	schema, err := topCitiesValidator()
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("top cities is not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("top cities schema validation failed: %w", err)
	}
	return nil
}

// WriteTopCities writes top_cities.json.
func (e *Exporter) WriteTopCities(doc TopCitiesDocument) (string, error) {
	data, err := MarshalTopCities(doc)
	if err != nil {
		return "", err
	}
	path := e.paths.TopCitiesJSON
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write top cities: %w", err)
	}
	e.logger.Info("wrote top cities",
		slog.String("file_path", path),
		slog.Int("cities", len(doc.Cities)))
	return path, nil
}
