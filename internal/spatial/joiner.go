package spatial

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/twpayne/go-geom"
	"golang.org/x/sync/errgroup"

	"dvfcli/internal/diagnostics"
	"dvfcli/internal/geo"
	"dvfcli/internal/records"
	"dvfcli/internal/reference"
)

// Zones is the read-only zone lookup the joiner needs.
type Zones interface {
	Intersecting(b *geom.Bounds) []reference.Zone
}

// Config parameterises a Joiner.
type Config struct {
	// ChunkSize is the maximum number of points per chunk.
	ChunkSize int
	Workers   int
	// GeohashPrecision orders points inside an oversized department.
	GeohashPrecision uint
	// CellSize is the grid cell edge in metres.
	CellSize float64
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        50_000,
		Workers:          runtime.NumCPU(),
		GeohashPrecision: 5,
		CellSize:         2_000,
	}
}

// Stats summarises a join.
type Stats struct {
	Chunks    int
	Interior  int
	Boundary  int
	Ambiguous int
	NoZone    int
}

// Matched is the number of transactions that received a zone.
func (s Stats) Matched() int {
	return s.Interior + s.Boundary
}

// Joiner assigns IRIS codes and names.
type Joiner struct {
	zones  Zones
	cfg    Config
	logger *slog.Logger
}

// New creates a Joiner. Zero fields of cfg take their default.
func New(zones Zones, cfg Config, logger *slog.Logger) *Joiner {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.GeohashPrecision == 0 {
		cfg.GeohashPrecision = def.GeohashPrecision
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = def.CellSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Joiner{zones: zones, cfg: cfg, logger: logger}
}

// Join sets IrisCode and IrisName on txs in place. Points with no zone, or with
// several containing zones, keep empty codes.
func (j *Joiner) Join(ctx context.Context, txs []records.NormalizedTransaction, report *diagnostics.Report) (Stats, error) {
	chunks := PlanChunks(txs, j.cfg.ChunkSize, j.cfg.GeohashPrecision)
	j.logger.InfoContext(ctx, "starting spatial join",
		"transactions", len(txs),
		"chunks", len(chunks),
		"chunk_size", j.cfg.ChunkSize,
	)

	var (
		mu    sync.Mutex
		total = Stats{Chunks: len(chunks)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Workers)
	for _, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := j.joinChunk(gctx, txs, chunk)
			mu.Lock()
			total.Interior += s.Interior
			total.Boundary += s.Boundary
			total.Ambiguous += s.Ambiguous
			total.NoZone += s.NoZone
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("spatial join: %w", err)
	}

	report.Note(diagnostics.StageSpatial, diagnostics.ReasonNoZone, total.NoZone)
	report.Note(diagnostics.StageSpatial, diagnostics.ReasonAmbiguousZone, total.Ambiguous)
	report.Note(diagnostics.StageSpatial, diagnostics.ReasonBoundaryTie, total.Boundary)
	report.SetRows(diagnostics.StageSpatial, len(txs), len(txs))

	if total.NoZone > 0 || total.Ambiguous > 0 {
		j.logger.WarnContext(ctx, "transactions left without iris zone",
			"no_zone", total.NoZone,
			"ambiguous", total.Ambiguous,
		)
	}
	j.logger.InfoContext(ctx, "spatial join complete",
		"matched", total.Matched(),
		"boundary_ties", total.Boundary,
		"chunks", total.Chunks,
	)
	return total, nil
}

func (j *Joiner) joinChunk(ctx context.Context, txs []records.NormalizedTransaction, chunk Chunk) Stats {
	xs := make([]float64, len(chunk.Indices))
	ys := make([]float64, len(chunk.Indices))
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for n, i := range chunk.Indices {
		x, y := geo.ToLambert93(txs[i].Longitude, txs[i].Latitude)
		xs[n], ys[n] = x, y
		minX, minY = math.Min(minX, x), math.Min(minY, y)
		maxX, maxY = math.Max(maxX, x), math.Max(maxY, y)
	}
	bounds := geom.NewBounds(geom.XY).Set(minX, minY, maxX, maxY)

	candidates := j.zones.Intersecting(bounds)
	index := newGridIndex(candidates, bounds, j.cfg.CellSize)

	var s Stats
	for n, i := range chunk.Indices {
		zone, match, _ := index.locate(xs[n], ys[n])
		switch match {
		case MatchInterior:
			s.Interior++
		case MatchBoundary:
			s.Boundary++
		case MatchAmbiguous:
			s.Ambiguous++
		default:
			s.NoZone++
		}
		txs[i].IrisCode = zone.Code
		txs[i].IrisName = zone.Name
	}

	j.logger.DebugContext(ctx, "joined chunk",
		"department_code", chunk.Department,
		"points", len(chunk.Indices),
		"candidate_zones", len(candidates),
		"matched", s.Matched(),
	)
	return s
}
