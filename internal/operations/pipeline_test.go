package operations_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvfcli/internal/config"
	"dvfcli/internal/operations"
	sharedtest "dvfcli/internal/shared/testutil"
)

const pipelineLedgerHeader = "id_mutation,date_mutation,numero_disposition,nature_mutation,valeur_fonciere,adresse_numero,adresse_suffixe,adresse_nom_voie,adresse_code_voie,code_postal,code_commune,nom_commune,code_departement,id_parcelle,type_local,surface_reelle_bati,nombre_pieces_principales,nature_culture,nature_culture_speciale,surface_terrain,longitude,latitude"

const pipelineDepartments = "DEP,REG,CHEFLIEU,TNCC,NCC,NCCENR,LIBELLE\n" +
	"13,93,13055,3,BOUCHES DU RHONE,Bouches-du-Rhône,Bouches-du-Rhône\n" +
	"75,11,75056,0,PARIS,Paris,Paris\n"

var pipelineLedgerRows = []string{
	"2023-1,2023-01-05,1,Vente,250000,12,,RUE DES LILAS,0420,75011,75111,Paris 11e Arrondissement,75,75111000AB0012,Appartement,50,2,,,,2.3799,48.8590",
	"2024-1,2024-03-01,1,Vente,300000,3,,RUE OBERKAMPF,0510,75011,75111,Paris 11e Arrondissement,75,75111000AB0020,Appartement,55,3,,,,2.3750,48.8640",
	"2024-2,2024-06-12,1,Vente,320000,8,,RUE PARADIS,1200,13008,13208,Marseille 8e Arrondissement,13,13208000CD0004,Maison,100,4,,,,5.3800,43.2500",
	"2025-1,2025-02-20,1,Vente,280000,40,,BOULEVARD VOLTAIRE,0990,75011,75111,Paris 11e Arrondissement,75,75111000AB0031,Appartement,52,2,,,,2.3820,48.8580",
	"2025-2,2025-04-02,1,Echange,150000,1,,RUE DE CHARONNE,0300,75011,75111,Paris 11e Arrondissement,75,75111000AB0044,Appartement,40,2,,,,2.3800,48.8530",
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newPipelineConfig(t *testing.T, ledger string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Ledger = writeFile(t, dir, "dvf.csv", ledger)
	cfg.Paths.Departments = writeFile(t, dir, "departements.csv", pipelineDepartments)
	cfg.Paths.OutputDir = filepath.Join(dir, "out")
	cfg.Paths.LogsDir = ""
	cfg.Pipeline.Workers = 2
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config) *operations.Pipeline {
	t.Helper()
	logger, _ := sharedtest.NewTestLogger(t)
	p, err := operations.NewPipeline(cfg, logger, operations.PipelineOptions{})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPipeline_Run(t *testing.T) {
	ledger := pipelineLedgerHeader + "\n" + strings.Join(pipelineLedgerRows, "\n") + "\n"
	cfg := newPipelineConfig(t, ledger)
	p := newTestPipeline(t, cfg)

	resp, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, operations.OperationStatusCompleted, resp.Status)
	for _, id := range []string{
		operations.StageIDRead,
		operations.StageIDCollapse,
		operations.StageIDOutliers,
		operations.StageIDAdjust,
		operations.StageIDSpatial,
		operations.StageIDAggregate,
		operations.StageIDExport,
	} {
		require.Contains(t, resp.Steps, id)
		assert.Equal(t, operations.StepStatusCompleted, resp.Steps[id].Status, id)
	}
	assert.NotContains(t, resp.Steps, operations.StageIDSinks)

	paths := cfg.OutputPaths()
	for _, path := range []string{
		paths.TransactionsCSV,
		paths.FactorsCSV,
		paths.TopCitiesJSON,
		paths.SummaryXLSX,
		paths.DiagnosticsJSON,
		paths.ManifestJSON,
		paths.AggregatePath("country", "all"),
	} {
		assert.FileExists(t, path)
	}

	manifest, err := operations.LoadManifestFromFile(paths.ManifestJSON)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, manifest.RunID)
	assert.Equal(t, operations.ManifestStatusCompleted, manifest.Status)
	assert.Equal(t, 2025, manifest.ReferenceYear)
	require.Len(t, manifest.Inputs, 2)
	assert.Equal(t, "ledger", manifest.Inputs[0].Role)
	assert.Equal(t, "departments", manifest.Inputs[1].Role)
	assert.Len(t, manifest.Inputs[0].Digest, 64)
	assert.Contains(t, manifest.Outputs, paths.DiagnosticsJSON)
	assert.Contains(t, manifest.Outputs, paths.TransactionsCSV)

	data, err := os.ReadFile(paths.DiagnosticsJSON)
	require.NoError(t, err)
	var diag map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &diag))
	assert.Equal(t, resp.ID, diag["run_id"])

	report := p.Report()
	require.NotNil(t, report)
	assert.Equal(t, resp.ID, report.Summary().RunID)
	assert.Equal(t, 2025, report.Summary().ReferenceYear)

	inMemory, ok := p.Manifest()
	require.True(t, ok)
	assert.Equal(t, manifest.RunID, inMemory.RunID)
}

func TestPipeline_SchemaErrorStillWritesRecords(t *testing.T) {
	ledger := "id_mutation,date_mutation\n2023-1,2023-01-05\n"
	cfg := newPipelineConfig(t, ledger)
	p := newTestPipeline(t, cfg)

	resp, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, operations.ErrorTypeValidation, operations.GetErrorType(err))
	require.NotNil(t, resp)
	assert.Equal(t, operations.OperationStatusFailed, resp.Status)

	paths := cfg.OutputPaths()
	assert.FileExists(t, paths.DiagnosticsJSON)
	assert.FileExists(t, paths.ManifestJSON)
	assert.NoFileExists(t, paths.TransactionsCSV)

	manifest, err := operations.LoadManifestFromFile(paths.ManifestJSON)
	require.NoError(t, err)
	assert.Equal(t, operations.ManifestStatusFailed, manifest.Status)
}

func TestPipeline_RunStageUnknown(t *testing.T) {
	ledger := pipelineLedgerHeader + "\n" + pipelineLedgerRows[0] + "\n"
	p := newTestPipeline(t, newPipelineConfig(t, ledger))

	_, err := p.RunStage(context.Background(), "does_not_exist")
	require.Error(t, err)
	assert.Equal(t, operations.ErrorTypeValidation, operations.GetErrorType(err))
}

func TestNewPipeline_NilConfig(t *testing.T) {
	_, err := operations.NewPipeline(nil, nil, operations.PipelineOptions{})
	assert.Error(t, err)
}
