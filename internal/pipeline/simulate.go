package pipeline

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"riskoracle/pkg/models"
)

// NodeRun 单个模拟节点的输出
type NodeRun struct {
	Node      int        `json:"node"`
	Digest    string     `json:"digest"`
	Path      Path       `json:"path"`
	Execution *Execution `json:"-"`
}

// SimulationReport 多节点模拟结果
//
// 只报告各节点摘要是否一致，不实现法定人数协议。
type SimulationReport struct {
	Nodes     []NodeRun `json:"nodes"`
	Digest    string    `json:"digest"`
	Agreement int       `json:"agreement"`
	Unanimous bool      `json:"unanimous"`
}

// Simulate 以 nodes 个相互独立的执行并发运行同一配置
func Simulate(ctx context.Context, runner *Runner, runID string, cfg models.AuditConfig, nodes int) (*SimulationReport, error) {
	if nodes <= 0 {
		return nil, fmt.Errorf("节点数必须大于0: %d", nodes)
	}

	runs := make([]NodeRun, nodes)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < nodes; i++ {
		i := i
		g.Go(func() error {
			exec := runner.Run(gctx, fmt.Sprintf("%s-node-%d", runID, i), cfg)
			digest, err := Digest(exec.Result)
			if err != nil {
				return fmt.Errorf("节点%d计算摘要失败: %w", i, err)
			}
			runs[i] = NodeRun{Node: i, Digest: digest, Path: exec.Path, Execution: exec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, run := range runs {
		counts[run.Digest]++
	}

	// 票数最多者胜出，平票时取字典序最小者以保证报告稳定
	digests := make([]string, 0, len(counts))
	for d := range counts {
		digests = append(digests, d)
	}
	sort.Slice(digests, func(i, j int) bool {
		if counts[digests[i]] != counts[digests[j]] {
			return counts[digests[i]] > counts[digests[j]]
		}
		return digests[i] < digests[j]
	})

	return &SimulationReport{
		Nodes:     runs,
		Digest:    digests[0],
		Agreement: counts[digests[0]],
		Unanimous: len(counts) == 1,
	}, nil
}

// MajorityThreshold 过半所需的节点数
func MajorityThreshold(nodes int) int {
	return nodes/2 + 1
}

// Quorum 是否有不少于 threshold 个节点给出相同摘要
func (r *SimulationReport) Quorum(threshold int) bool {
	return r.Agreement >= threshold
}
