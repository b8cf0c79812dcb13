package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "turtle-backtest/proto"
	"turtle-backtest/services/cache"
	"turtle-backtest/services/clickhouse"
	"turtle-backtest/services/dataset"
	"turtle-backtest/services/engine"
)

// maxRecentJobs bounds the in-process job index used when Redis is absent.
const maxRecentJobs = 256

// BacktestService implements the gRPC and REST backtest API
type BacktestService struct {
	pb.UnimplementedBacktestServiceServer
	base    engine.Config
	loader  *dataset.Loader
	store   *clickhouse.Store
	cache   *cache.ResultCache
	monitor *engine.PerformanceMonitor
	logger  *zap.Logger

	mu    sync.Mutex
	jobs  map[string]*engine.Result
	order []string
}

func NewBacktestService(base engine.Config, loader *dataset.Loader, store *clickhouse.Store, rc *cache.ResultCache, monitor *engine.PerformanceMonitor, logger *zap.Logger) *BacktestService {
	return &BacktestService{
		base:    base,
		loader:  loader,
		store:   store,
		cache:   rc,
		monitor: monitor,
		logger:  logger,
		jobs:    make(map[string]*engine.Result),
	}
}

// ExecuteBacktest implements the gRPC ExecuteBacktest method
func (s *BacktestService) ExecuteBacktest(ctx context.Context, req *pb.BacktestRequest) (*pb.BacktestResponse, error) {
	resp, err := s.execute(ctx, req)
	return resp, grpcError(err)
}

func (s *BacktestService) execute(ctx context.Context, req *pb.BacktestRequest) (*pb.BacktestResponse, error) {
	startTime := time.Now()

	cfg, err := applyOverrides(s.base, req.Overrides)
	if err != nil {
		return nil, err
	}
	series, err := s.series(ctx, req.Bars, req.Instruments, req.From, req.To)
	if err != nil {
		return nil, err
	}
	var rolls []engine.RollEvent
	if len(req.Rolls) > 0 {
		if rolls, err = rollsFromProto(req.Rolls); err != nil {
			return nil, err
		}
	} else if len(req.Bars) == 0 {
		if rolls, err = s.loader.Rolls(series); err != nil {
			return nil, err
		}
	}

	e, err := engine.New(cfg, s.logger)
	if err != nil {
		return nil, err
	}
	if err := engine.ValidateSeries(series); err != nil {
		return nil, err
	}

	snap, err := engine.SnapshotConfig(e.Config(), series)
	if err != nil {
		return nil, err
	}
	key := cache.ResultKey(snap.ConfigHash, snap.DataChecksum, engine.RollChecksum(rolls))
	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("Result cache lookup failed", zap.Error(err))
	} else if ok {
		s.logger.Info("Serving cached backtest", zap.String("job_id", cached.RunID))
		s.remember(cached)
		return convertToGrpcResponse(cached, time.Since(startTime), true, req.IncludeEvents), nil
	}

	s.logger.Info("Starting backtest execution",
		zap.Int("instruments", len(series)),
		zap.Int("bars", series.BarCount()),
		zap.Int("rolls", len(rolls)),
	)
	res, err := e.Run(ctx, series, rolls)
	if err != nil {
		s.logger.Error("Backtest execution failed", zap.Error(err))
		return nil, err
	}
	elapsed := time.Since(startTime)
	s.monitor.RecordBenchmark("backtest", elapsed, series.BarCount())
	for _, v := range s.monitor.CheckSLOs() {
		s.logger.Warn("SLO violation", zap.String("job_id", res.RunID), zap.String("detail", v))
	}

	s.remember(res)
	if err := s.cache.Put(ctx, res); err != nil {
		s.logger.Warn("Result cache write failed", zap.Error(err))
	}
	if s.store != nil {
		if err := s.store.SaveResult(ctx, res); err != nil {
			s.logger.Error("Failed to persist result", zap.String("job_id", res.RunID), zap.Error(err))
		}
	}

	s.logger.Info("Backtest completed",
		zap.String("job_id", res.RunID),
		zap.Duration("execution_time", elapsed),
		zap.Int("trades", len(res.Trades)),
	)
	return convertToGrpcResponse(res, elapsed, false, req.IncludeEvents), nil
}

func (s *BacktestService) series(ctx context.Context, inline map[string][]*pb.Bar, instruments []string, from, to string) (engine.Series, error) {
	if len(inline) > 0 {
		return seriesFromProto(inline)
	}
	f, t, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.loader.Series(ctx, instruments, f, t)
}

// GetBacktest returns a finished run from the cache or the in-process index.
func (s *BacktestService) GetBacktest(ctx context.Context, req *pb.GetBacktestRequest) (*pb.BacktestResponse, error) {
	res, err := s.lookup(ctx, req.JobId)
	if err != nil {
		return nil, grpcError(err)
	}
	return convertToGrpcResponse(res, 0, true, false), nil
}

var errJobNotFound = errors.New("job not found")

func (s *BacktestService) lookup(ctx context.Context, jobID string) (*engine.Result, error) {
	s.mu.Lock()
	res, ok := s.jobs[jobID]
	s.mu.Unlock()
	if ok {
		return res, nil
	}
	res, ok, err := s.cache.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", errJobNotFound, jobID)
	}
	return res, nil
}

func (s *BacktestService) remember(res *engine.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[res.RunID]; ok {
		return
	}
	s.jobs[res.RunID] = res
	s.order = append(s.order, res.RunID)
	if len(s.order) > maxRecentJobs {
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
}

// Scan implements the gRPC Scan method
func (s *BacktestService) Scan(ctx context.Context, req *pb.ScanRequest) (*pb.ScanResponse, error) {
	resp, err := s.scan(ctx, req)
	return resp, grpcError(err)
}

func (s *BacktestService) scan(ctx context.Context, req *pb.ScanRequest) (*pb.ScanResponse, error) {
	cfg, err := applyOverrides(s.base, req.Overrides)
	if err != nil {
		return nil, err
	}
	series, err := s.series(ctx, req.Bars, req.Instruments, req.From, req.To)
	if err != nil {
		return nil, err
	}
	rows, risk, err := engine.Scan(ctx, cfg, series)
	if err != nil {
		return nil, err
	}
	return convertScan(rows, risk), nil
}

// grpcError maps input errors to InvalidArgument and missing jobs to
// NotFound.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	var ie *engine.InputError
	switch {
	case errors.As(err, &ie):
		return status.Error(codes.InvalidArgument, ie.Error())
	case errors.Is(err, errJobNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func httpStatus(err error) (int, gin.H) {
	var ie *engine.InputError
	switch {
	case errors.As(err, &ie):
		return http.StatusBadRequest, gin.H{"error": ie.Msg, "code": ie.Code, "instrument": ie.Instrument}
	case errors.Is(err, errJobNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": err.Error()}
	}
}

// HTTP handlers for REST API
func (s *BacktestService) setupHTTPRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktestRequest)
		api.GET("/backtest/:job_id", s.handleGetBacktestResult)
		api.POST("/scan", s.handleScanRequest)
		api.GET("/health", s.handleHealthCheck)
		api.GET("/benchmarks", s.handleBenchmarks)
	}
}

func (s *BacktestService) handleBacktestRequest(c *gin.Context) {
	var req pb.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.execute(c.Request.Context(), &req)
	if err != nil {
		s.logger.Error("Backtest request failed", zap.Error(err))
		c.JSON(httpStatus(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *BacktestService) handleGetBacktestResult(c *gin.Context) {
	res, err := s.lookup(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		c.JSON(httpStatus(err))
		return
	}
	c.JSON(http.StatusOK, convertToGrpcResponse(res, 0, true, c.Query("events") == "true"))
}

func (s *BacktestService) handleScanRequest(c *gin.Context) {
	var req pb.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := s.scan(c.Request.Context(), &req)
	if err != nil {
		c.JSON(httpStatus(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *BacktestService) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   engine.EngineVersion,
	})
}

func (s *BacktestService) handleBenchmarks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"results":        s.monitor.Results(),
		"slo_violations": s.monitor.CheckSLOs(),
	})
}
