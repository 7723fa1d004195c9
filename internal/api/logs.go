package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	RunID     string                 `json:"run_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogFilter 日志查询条件。Level 为最低级别，例如 warning 会同时返回 error。
type LogFilter struct {
	Level string
	RunID string
}

func (f LogFilter) match(entry LogEntry) bool {
	if f.RunID != "" && entry.RunID != f.RunID {
		return false
	}
	if f.Level != "" {
		threshold, err := logrus.ParseLevel(f.Level)
		if err != nil {
			return entry.Level == f.Level
		}
		lvl, err := logrus.ParseLevel(entry.Level)
		if err != nil || lvl > threshold {
			return false
		}
	}
	return true
}

// LogManager 最近日志的环形缓冲
type LogManager struct {
	logs    []LogEntry
	next    int
	full    bool
	maxLogs int
	mu      sync.RWMutex
}

// NewLogManager 创建日志管理器
func NewLogManager(maxLogs int) *LogManager {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &LogManager{
		logs:    make([]LogEntry, maxLogs),
		maxLogs: maxLogs,
	}
}

// AddLog 添加日志，缓冲满后覆盖最旧的一条
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	fields := make(map[string]interface{}, len(entry.Data))
	var runID string
	for k, v := range entry.Data {
		if k == "run_id" {
			if s, ok := v.(string); ok {
				runID = s
				continue
			}
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.logs[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		RunID:     runID,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % lm.maxLogs
	if lm.next == 0 {
		lm.full = true
	}
}

// snapshotLocked 按时间从新到旧返回
func (lm *LogManager) snapshotLocked(filter LogFilter) []LogEntry {
	n := lm.next
	if lm.full {
		n = lm.maxLogs
	}
	out := make([]LogEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (lm.next - i + lm.maxLogs) % lm.maxLogs
		if filter.match(lm.logs[idx]) {
			out = append(out, lm.logs[idx])
		}
	}
	return out
}

// GetLogs 最新的 limit 条日志，limit<=0 返回全部
func (lm *LogManager) GetLogs(filter LogFilter, limit int) []LogEntry {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	logs := lm.snapshotLocked(filter)
	if limit > 0 && limit < len(logs) {
		logs = logs[:limit]
	}
	return logs
}

// GetLogsWithPagination 分页获取日志，第一页为最新
func (lm *LogManager) GetLogsWithPagination(filter LogFilter, page, pageSize int) ([]LogEntry, int) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	logs := lm.snapshotLocked(filter)
	total := len(logs)

	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return logs[start:end], total
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.logs = make([]LogEntry, lm.maxLogs)
	lm.next = 0
	lm.full = false
}

// LogHook 把日志写入 LogManager 的 logrus 钩子
type LogHook struct {
	manager *LogManager
	levels  []logrus.Level
}

// NewLogHook 创建日志钩子，只收集 info 及以上级别
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{
		manager: manager,
		levels: []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
			logrus.WarnLevel,
			logrus.InfoLevel,
		},
	}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}
