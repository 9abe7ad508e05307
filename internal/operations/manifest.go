package operations

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Manifest status values
const (
	ManifestStatusPending   = "pending"
	ManifestStatusRunning   = "running"
	ManifestStatusCompleted = "completed"
	ManifestStatusFailed    = "failed"
	ManifestStatusSkipped   = "skipped"
)

// PipelineManifest is the record of one run: the inputs it read, the data each
// stage made available and the files it wrote.
type PipelineManifest struct {
	mu sync.RWMutex

	RunID         string    `json:"run_id"`
	StartTime     time.Time `json:"start_time"`
	ReferenceYear int       `json:"reference_year,omitempty"`

	Config map[string]interface{} `json:"config,omitempty"`

	Inputs        []InputFile          `json:"inputs"`
	AvailableData map[string]*DataInfo `json:"available_data"`
	Outputs       []string             `json:"outputs"`

	Stages []StageExecution `json:"stages"`

	Status      string    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
	Error       string    `json:"error,omitempty"`
}

// InputFile fingerprints one input file.
type InputFile struct {
	Role   string `json:"role"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"blake2b_256"`
}

// DataInfo describes an in-memory data set produced by a stage.
type DataInfo struct {
	Type      string                 `json:"type"`
	Rows      int                    `json:"rows"`
	Files     []string               `json:"files,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	CreatedBy string                 `json:"created_by"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// StageExecution tracks the execution of a single stage
type StageExecution struct {
	StageID    string                 `json:"stage_id"`
	StageName  string                 `json:"stage_name"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    time.Time              `json:"end_time"`
	Duration   string                 `json:"duration"`
	Status     string                 `json:"status"`
	OutputData []string               `json:"output_data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewPipelineManifest creates an empty manifest for a run.
func NewPipelineManifest(runID string) *PipelineManifest {
	now := time.Now()
	return &PipelineManifest{
		RunID:         runID,
		StartTime:     now,
		AvailableData: make(map[string]*DataInfo),
		Inputs:        []InputFile{},
		Outputs:       []string{},
		Stages:        []StageExecution{},
		Status:        ManifestStatusPending,
		LastUpdated:   now,
	}
}

// FingerprintFile returns the size and hex BLAKE2b-256 digest of a file.
func FingerprintFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash %s: %w", path, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// RecordInput fingerprints path and adds it to the inputs. Empty paths are ignored.
func (m *PipelineManifest) RecordInput(role, path string) error {
	if path == "" {
		return nil
	}
	size, digest, err := FingerprintFile(path)
	if err != nil {
		return fmt.Errorf("fingerprint %s input: %w", role, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Inputs = append(m.Inputs, InputFile{Role: role, Path: path, Size: size, Digest: digest})
	m.LastUpdated = time.Now()
	return nil
}

// SetReferenceYear records the resolved reference year.
func (m *PipelineManifest) SetReferenceYear(year int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReferenceYear = year
	m.LastUpdated = time.Now()
}

// SetStatus sets the overall status.
func (m *PipelineManifest) SetStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Status = status
	m.LastUpdated = time.Now()
}

// GetStatus returns the overall status.
func (m *PipelineManifest) GetStatus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Status
}

// HasData checks if a specific type of data is available
func (m *PipelineManifest) HasData(dataType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.AvailableData[dataType]
	return exists
}

// GetData returns information about available data
func (m *PipelineManifest) GetData(dataType string) (*DataInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.AvailableData[dataType]
	return data, exists
}

// AddData records newly available data
func (m *PipelineManifest) AddData(info *DataInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info.CreatedAt = time.Now()
	m.AvailableData[info.Type] = info
	m.LastUpdated = info.CreatedAt
}

// AddOutputs records written files, keeping the list sorted and unique.
func (m *PipelineManifest) AddOutputs(paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(m.Outputs))
	for _, p := range m.Outputs {
		seen[p] = true
	}
	for _, p := range paths {
		if p != "" && !seen[p] {
			seen[p] = true
			m.Outputs = append(m.Outputs, p)
		}
	}
	sort.Strings(m.Outputs)
	m.LastUpdated = time.Now()
}

// RecordStageStart records the start of a stage execution
func (m *PipelineManifest) RecordStageStart(stageID, stageName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.Status = ManifestStatusRunning
	m.LastUpdated = now
	for i := range m.Stages {
		if m.Stages[i].StageID == stageID {
			m.Stages[i].StartTime = now
			m.Stages[i].Status = ManifestStatusRunning
			m.Stages[i].Error = ""
			return
		}
	}
	m.Stages = append(m.Stages, StageExecution{
		StageID:   stageID,
		StageName: stageName,
		StartTime: now,
		Status:    ManifestStatusRunning,
	})
}

// RecordStageCompletion records the completion of a stage
func (m *PipelineManifest) RecordStageCompletion(stageID string, outputData []string, metadata map[string]interface{}) {
	m.finishStage(stageID, ManifestStatusCompleted, func(s *StageExecution) {
		s.OutputData = outputData
		s.Metadata = metadata
	})
}

// RecordStageFailure records a stage failure and fails the run.
func (m *PipelineManifest) RecordStageFailure(stageID string, err error) {
	m.finishStage(stageID, ManifestStatusFailed, func(s *StageExecution) {
		s.Error = err.Error()
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Status = ManifestStatusFailed
	m.Error = fmt.Sprintf("stage %s failed: %v", stageID, err)
}

// RecordStageSkip records a stage that did not run.
func (m *PipelineManifest) RecordStageSkip(stageID, stageName, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.Stages = append(m.Stages, StageExecution{
		StageID:   stageID,
		StageName: stageName,
		StartTime: now,
		EndTime:   now,
		Status:    ManifestStatusSkipped,
		Error:     reason,
	})
	m.LastUpdated = now
}

func (m *PipelineManifest) finishStage(stageID, status string, apply func(*StageExecution)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for i := range m.Stages {
		if m.Stages[i].StageID == stageID {
			m.Stages[i].EndTime = now
			m.Stages[i].Duration = now.Sub(m.Stages[i].StartTime).String()
			m.Stages[i].Status = status
			apply(&m.Stages[i])
			break
		}
	}
	m.LastUpdated = now
}

// IsStageCompleted checks if a stage has been completed
func (m *PipelineManifest) IsStageCompleted(stageID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, stage := range m.Stages {
		if stage.StageID == stageID && stage.Status == ManifestStatusCompleted {
			return true
		}
	}
	return false
}

// GetProgress returns the share of totalStages completed, in percent.
func (m *PipelineManifest) GetProgress(totalStages int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if totalStages <= 0 {
		return 0
	}
	completed := 0
	for _, stage := range m.Stages {
		if stage.Status == ManifestStatusCompleted {
			completed++
		}
	}
	return (completed * 100) / totalStages
}

// SaveToFile saves the manifest to a JSON file
func (m *PipelineManifest) SaveToFile(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest file: %w", err)
	}
	return nil
}

// LoadManifestFromFile loads a manifest from a JSON file
func LoadManifestFromFile(path string) (*PipelineManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var manifest PipelineManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	if manifest.AvailableData == nil {
		manifest.AvailableData = make(map[string]*DataInfo)
	}
	return &manifest, nil
}

// Clone creates a deep copy of the manifest
func (m *PipelineManifest) Clone() *PipelineManifest {
	m.mu.RLock()
	data, err := json.Marshal(m)
	m.mu.RUnlock()

	clone := NewPipelineManifest("")
	if err != nil {
		return clone
	}
	_ = json.Unmarshal(data, clone)
	return clone
}
