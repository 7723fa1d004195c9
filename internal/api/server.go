package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"riskoracle/internal/config"
	"riskoracle/internal/metrics"
	"riskoracle/internal/scheduler"
	"riskoracle/internal/validation"
	"riskoracle/internal/verdict"
	"riskoracle/internal/workflow"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	maxSimulationNodes  = 16
)

// Server API服务器
type Server struct {
	service    *workflow.Service
	config     *config.Config
	scheduler  *scheduler.Scheduler
	workflows  *WorkflowManager
	logger     *logrus.Logger
	logManager *LogManager
	server     *http.Server
	mu         sync.RWMutex
	port       int
	startedAt  time.Time
}

// NewServer 创建新的API服务器
func NewServer(svc *workflow.Service, cfg *config.Config, logger *logrus.Logger, port int) *Server {
	// 最多保存1000条日志
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		service:    svc,
		config:     cfg,
		logger:     logger,
		logManager: logManager,
		port:       port,
		startedAt:  time.Now(),
	}
}

// SetScheduler 关联调度器，用于在状态接口中报告下次触发时间
func (s *Server) SetScheduler(sched *scheduler.Scheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler = sched
}

// SetWorkflowManager 启用数据库工作流管理接口
func (s *Server) SetWorkflowManager(wm *WorkflowManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows = wm
}

// Router 构建路由
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
	router.Use(gin.Recovery())
	router.Use(metrics.GinMiddleware())

	s.setupRoutes(router)
	return router
}

// Start 启动API服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止API服务器，等待进行中的请求结束
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.getStatus)
		api.GET("/config", s.getConfig)

		// 审计
		api.POST("/audit", s.runAudit)
		api.POST("/simulate", s.runSimulation)
		api.POST("/decode", s.decodeCall)
		api.GET("/results", s.getResults)

		api.GET("/stats", s.getStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		// 工作流配置
		api.GET("/workflows", s.listWorkflows)
		api.PUT("/workflows", s.updateWorkflow)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "riskoracle-api",
	})
}

func (s *Server) getStatus(c *gin.Context) {
	s.mu.RLock()
	sched := s.scheduler
	s.mu.RUnlock()

	wf := s.service.Workflow()
	status := gin.H{
		"workflow": gin.H{
			"schedule":         wf.Schedule,
			"contract_address": wf.ContractAddress,
			"chain_id":         wf.ChainID,
		},
		"scheduled": sched != nil,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	}
	// 调度器运行时以其表达式为准；未启动或未挂接时按配置推算
	spec := wf.Schedule
	var next time.Time
	if sched != nil {
		spec = sched.Spec()
		next = sched.Next()
	}
	if next.IsZero() {
		if n, err := scheduler.NextAfter(spec, time.Now()); err == nil {
			next = n
		}
	}
	status["active_schedule"] = spec
	if !next.IsZero() {
		status["next_run"] = next.UTC().Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) getConfig(c *gin.Context) {
	// 配置中不含任何凭据
	c.JSON(http.StatusOK, gin.H{
		"config": s.config,
	})
}

type auditRequest struct {
	ContractAddress  string `json:"contract_address" binding:"required"`
	ChainID          string `json:"chain_id"`
	CallData         string `json:"call_data"`
	InitialRiskLevel string `json:"initial_risk_level"`
}

func (s *Server) runAudit(c *gin.Context) {
	var req auditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if !validation.IsValidAddress(req.ContractAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "合约地址格式无效"})
		return
	}

	cfg := s.service.Workflow()
	cfg.ContractAddress = req.ContractAddress
	if req.ChainID != "" {
		cfg.ChainID = req.ChainID
	}
	if err := validation.ValidateAuditConfig(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RunTimeout())
	defer cancel()

	report := s.service.Audit(ctx, cfg)
	result := report.Result

	resp := gin.H{
		"status":              "success",
		"run_id":              report.RunID,
		"path":                report.Path,
		"risk_level":          result.RiskLevel,
		"explanation":         result.Explanation,
		"dangerous_functions": result.DangerousFunctions,
		"auditor":             result.Auditor,
		"contract_address":    result.ContractAddress,
		"chain_id":            result.ChainID,
		"verified_timestamp":  result.Timestamp,
		"verification_hash":   report.Digest,
	}
	if result.IsError() {
		resp["status"] = "error"
		resp["message"] = result.Explanation
	}
	if req.InitialRiskLevel != "" {
		resp["levels_match"] = verdict.LevelsMatch(result.RiskLevel, req.InitialRiskLevel)
	}
	if req.CallData != "" {
		// 解码失败不影响审计结果
		if call, err := s.service.Decode(ctx, req.ContractAddress, req.CallData); err == nil {
			resp["decoded_call"] = call
		} else {
			s.logger.WithError(err).Debug("call data 解码失败")
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) runSimulation(c *gin.Context) {
	var req struct {
		ContractAddress string `json:"contract_address"`
		ChainID         string `json:"chain_id"`
		Nodes           int    `json:"nodes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Nodes <= 0 || req.Nodes > maxSimulationNodes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("节点数必须在1到%d之间", maxSimulationNodes)})
		return
	}

	cfg := s.service.Workflow()
	if req.ContractAddress != "" {
		cfg.ContractAddress = req.ContractAddress
	}
	if req.ChainID != "" {
		cfg.ChainID = req.ChainID
	}
	if err := validation.ValidateAuditConfig(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RunTimeout())
	defer cancel()

	report, err := s.service.Simulate(ctx, cfg, req.Nodes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) decodeCall(c *gin.Context) {
	var req struct {
		ContractAddress string `json:"contract_address" binding:"required"`
		CallData        string `json:"call_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if !validation.IsValidAddress(req.ContractAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "合约地址格式无效"})
		return
	}

	call, err := s.service.Decode(c.Request.Context(), req.ContractAddress, req.CallData)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"selector":      call.Selector,
		"function_name": call.FunctionName,
		"signature":     call.Signature,
		"arguments":     call.Arguments,
		"from_abi":      call.FromABI,
	})
}

func (s *Server) getResults(c *gin.Context) {
	wf := s.service.Workflow()
	address := c.DefaultQuery("contract_address", wf.ContractAddress)
	chainID := c.DefaultQuery("chain_id", wf.ChainID)
	limit := queryInt(c, "limit", defaultHistoryLimit)
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := s.service.History(address, chainID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract_address": strings.ToLower(address),
		"chain_id":         chainID,
		"results":          entries,
		"count":            len(entries),
	})
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"errors":  s.service.ErrorStats(),
		"history": s.service.HistoryStats(),
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) getLogs(c *gin.Context) {
	filter := LogFilter{
		Level: c.Query("level"),
		RunID: c.Query("run_id"),
	}
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pageSize", 20)

	logs, total := s.logManager.GetLogsWithPagination(filter, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    filter.Level,
	})
}

func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()

	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}

func (s *Server) listWorkflows(c *gin.Context) {
	if wm := s.workflowManager(); wm != nil {
		wm.ListWorkflows(c)
		return
	}
	c.JSON(http.StatusNotImplemented, gin.H{"error": "未配置工作流数据库"})
}

func (s *Server) updateWorkflow(c *gin.Context) {
	if wm := s.workflowManager(); wm != nil {
		wm.UpdateWorkflow(c)
		return
	}
	c.JSON(http.StatusNotImplemented, gin.H{"error": "未配置工作流数据库"})
}

func (s *Server) workflowManager() *WorkflowManager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflows
}

// queryInt 读取正整数查询参数，缺省或非法时返回默认值
func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
