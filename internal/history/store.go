// Package history 用 bbolt 保存每个合约最近的审计结果
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"riskoracle/internal/errors"
	"riskoracle/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/history.db"
	// 每个合约默认保留条数
	DefaultKeep = 50

	// 存储桶名称
	ResultsBucket = "results"
	StatsBucket   = "stats"

	totalKey       = "total"
	lastRunTimeKey = "last_run_time"
)

// Entry 一条历史记录
type Entry struct {
	Sequence   uint64             `json:"sequence"`
	RunID      string             `json:"run_id"`
	Path       string             `json:"path"`
	Digest     string             `json:"verification_hash"`
	RecordedAt time.Time          `json:"recorded_at"`
	Result     models.AuditResult `json:"result"`
}

// Store 历史记录存储
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	keep   int
	mu     sync.Mutex
}

// ContractKey 合约+链组成的桶名，地址不区分大小写
func ContractKey(contractAddress, chainID string) string {
	return strings.ToLower(contractAddress) + "@" + chainID
}

// NewStore 打开或创建历史库
func NewStore(dbPath string, keep int, logger *logrus.Logger) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if keep <= 0 {
		keep = DefaultKeep
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.ErrStoreFailed.Wrap(fmt.Errorf("创建数据目录失败: %w", err))
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.ErrStoreFailed.Wrap(fmt.Errorf("打开历史数据库失败: %w", err))
	}

	store := &Store{db: db, logger: logger, dbPath: dbPath, keep: keep}
	if err := store.initDB(); err != nil {
		db.Close()
		return nil, errors.ErrStoreFailed.Wrap(fmt.Errorf("初始化数据库失败: %w", err))
	}

	logger.Infof("历史记录库已初始化，数据库路径: %s", dbPath)
	return store, nil
}

func (s *Store) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ResultsBucket)); err != nil {
			return fmt.Errorf("创建结果存储桶失败: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(StatsBucket)); err != nil {
			return fmt.Errorf("创建统计存储桶失败: %w", err)
		}
		return nil
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func incr(bucket *bolt.Bucket, key string) error {
	var n uint64
	if data := bucket.Get([]byte(key)); len(data) == 8 {
		n = binary.BigEndian.Uint64(data)
	}
	return bucket.Put([]byte(key), itob(n+1))
}

// putRunTime 写入最近一次运行时间
func putRunTime(bucket *bolt.Bucket, at time.Time) error {
	data, err := json.Marshal(at)
	if err != nil {
		return fmt.Errorf("序列化运行时间失败: %w", err)
	}
	if err := bucket.Put([]byte(lastRunTimeKey), data); err != nil {
		return fmt.Errorf("保存运行时间失败: %w", err)
	}
	return nil
}

// Append 追加一条记录，超出保留条数时删除最旧的
func (s *Store) Append(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	key := ContractKey(entry.Result.ContractAddress, entry.Result.ChainID)

	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(ResultsBucket))
		bucket, err := root.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("创建合约存储桶失败: %w", err)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry.Sequence = seq

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("序列化历史记录失败: %w", err)
		}
		if err := bucket.Put(itob(seq), data); err != nil {
			return fmt.Errorf("保存历史记录失败: %w", err)
		}

		// 删除超出保留条数的旧记录
		c := bucket.Cursor()
		count := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		for k, _ := c.First(); k != nil && count > s.keep; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			count--
		}

		stats := tx.Bucket([]byte(StatsBucket))
		if err := incr(stats, totalKey); err != nil {
			return err
		}
		if err := incr(stats, "path:"+entry.Path); err != nil {
			return err
		}
		return putRunTime(stats, entry.RecordedAt)
	})
	if err != nil {
		return errors.ErrStoreFailed.Wrap(err).WithComponent("history")
	}
	return nil
}

// Recent 按时间倒序返回某合约最近的记录
func (s *Store) Recent(contractAddress, chainID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.keep
	}
	entries := make([]Entry, 0, limit)

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ResultsBucket)).Bucket([]byte(ContractKey(contractAddress, chainID)))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("解析历史记录失败: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, errors.ErrStoreFailed.Wrap(err).WithComponent("history")
	}
	return entries, nil
}

// Latest 最近一条记录
func (s *Store) Latest(contractAddress, chainID string) (*Entry, bool, error) {
	entries, err := s.Recent(contractAddress, chainID, 1)
	if err != nil || len(entries) == 0 {
		return nil, false, err
	}
	return &entries[0], true, nil
}

// Contracts 已有记录的合约键
func (s *Store) Contracts() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ResultsBucket)).ForEachBucket(func(k []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// GetStats 获取统计信息
func (s *Store) GetStats() map[string]interface{} {
	stats := map[string]interface{}{"db_path": s.dbPath, "keep": s.keep}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(StatsBucket)).ForEach(func(k, v []byte) error {
			key := string(k)
			switch {
			case key == lastRunTimeKey:
				var t time.Time
				if err := json.Unmarshal(v, &t); err == nil {
					stats[key] = t.Format(time.RFC3339)
				}
			case len(v) == 8:
				stats[key] = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	if err != nil {
		s.logger.Warnf("读取历史统计失败: %v", err)
	}
	return stats
}

// GetDBPath 获取数据库路径
func (s *Store) GetDBPath() string {
	return s.dbPath
}

// Close 关闭历史库
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info("关闭历史记录库")
		return s.db.Close()
	}
	return nil
}
