package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"riskoracle/internal/config"
	"riskoracle/internal/validation"
	"riskoracle/pkg/models"
)

// WorkflowStore 工作流配置存储
type WorkflowStore interface {
	LoadWorkflows() ([]config.WorkflowRow, error)
	UpdateWorkflow(w config.WorkflowRow, priority int) error
}

// WorkflowManager 管理数据库中的审计工作流配置
//
// 修改只对下次进程启动生效，运行中的调度不会被改写。
type WorkflowManager struct {
	store  WorkflowStore
	logger *logrus.Logger
}

// NewWorkflowManager 创建工作流管理器
func NewWorkflowManager(store WorkflowStore, logger *logrus.Logger) *WorkflowManager {
	return &WorkflowManager{
		store:  store,
		logger: logger,
	}
}

// ListWorkflows 列出启用的工作流
func (wm *WorkflowManager) ListWorkflows(c *gin.Context) {
	rows, err := wm.store.LoadWorkflows()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取工作流失败",
			"message": err.Error(),
		})
		return
	}

	workflows := make([]gin.H, 0, len(rows))
	for _, w := range rows {
		workflows = append(workflows, gin.H{
			"name":             w.Name,
			"schedule":         w.Schedule,
			"contract_address": w.ContractAddress,
			"chain_id":         w.ChainID,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"workflows": workflows,
	})
}

// UpdateWorkflow 新增或更新一个工作流
func (wm *WorkflowManager) UpdateWorkflow(c *gin.Context) {
	var req struct {
		Name            string `json:"name" binding:"required"`
		Schedule        string `json:"schedule" binding:"required"`
		ContractAddress string `json:"contract_address" binding:"required"`
		ChainID         string `json:"chain_id" binding:"required"`
		Priority        int    `json:"priority"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	cfg := models.AuditConfig{
		Schedule:        req.Schedule,
		ContractAddress: req.ContractAddress,
		ChainID:         req.ChainID,
	}
	if err := validation.ValidateAuditConfig(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "工作流配置无效",
			"message": err.Error(),
		})
		return
	}

	row := config.WorkflowRow{
		Name:            req.Name,
		Schedule:        req.Schedule,
		ContractAddress: req.ContractAddress,
		ChainID:         req.ChainID,
	}
	if err := wm.store.UpdateWorkflow(row, req.Priority); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "更新工作流失败",
			"message": err.Error(),
		})
		return
	}

	wm.logger.WithField("workflow", req.Name).Info("工作流配置已更新")
	c.JSON(http.StatusOK, gin.H{
		"message": "工作流更新成功",
		"workflow": gin.H{
			"name":             row.Name,
			"schedule":         row.Schedule,
			"contract_address": row.ContractAddress,
			"chain_id":         row.ChainID,
			"priority":         req.Priority,
		},
	})
}
