package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Signal planner: splits instruments into chunks and computes their signal
// rows on a worker pool. Instruments are independent, so only the day loop
// that consumes the rows has to be sequential.

type Chunk struct {
	Instruments []string
}

type Planner struct {
	MaxChunkSize int
	MaxWorkers   int
	logger       *zap.Logger
}

func NewPlanner(maxChunkSize, maxWorkers int, logger *zap.Logger) *Planner {
	if maxChunkSize <= 0 {
		maxChunkSize = 8
	}
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		MaxChunkSize: maxChunkSize,
		MaxWorkers:   maxWorkers,
		logger:       logger,
	}
}

func (p *Planner) PlanChunks(instruments []string) []Chunk {
	var chunks []Chunk

	// Simple chunking by instrument count
	for i := 0; i < len(instruments); i += p.MaxChunkSize {
		end := i + p.MaxChunkSize
		if end > len(instruments) {
			end = len(instruments)
		}
		chunks = append(chunks, Chunk{Instruments: instruments[i:end]})
	}

	return chunks
}

type chunkResult struct {
	rows map[string][]SignalRow
}

// ComputeAll returns signal rows for every instrument in the series. The
// result does not depend on the number of workers.
func (p *Planner) ComputeAll(ctx context.Context, series Series, params SignalParams) (map[string][]SignalRow, error) {
	chunks := p.PlanChunks(series.Instruments())
	numWorkers := p.MaxWorkers
	if numWorkers > len(chunks) {
		numWorkers = len(chunks)
	}

	chunkChan := make(chan Chunk, len(chunks))
	resultChan := make(chan chunkResult, len(chunks))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, series, params, chunkChan, resultChan, &wg)
	}

	for _, c := range chunks {
		chunkChan <- c
	}
	close(chunkChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	out := make(map[string][]SignalRow, len(series))
	for r := range resultChan {
		for inst, rows := range r.rows {
			out[inst] = rows
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("signal computation cancelled: %w", err)
	}
	if len(out) != len(series) {
		return nil, fmt.Errorf("signal computation incomplete: %d of %d instruments", len(out), len(series))
	}
	return out, nil
}

func (p *Planner) worker(
	ctx context.Context,
	workerID int,
	series Series,
	params SignalParams,
	chunkChan <-chan Chunk,
	resultChan chan<- chunkResult,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for chunk := range chunkChan {
		if ctx.Err() != nil {
			return
		}
		p.logger.Debug("Worker computing signals",
			zap.Int("worker_id", workerID),
			zap.Strings("instruments", chunk.Instruments),
		)
		rows := make(map[string][]SignalRow, len(chunk.Instruments))
		for _, inst := range chunk.Instruments {
			rows[inst] = ComputeSignals(series[inst], params)
		}
		resultChan <- chunkResult{rows: rows}
	}
}
