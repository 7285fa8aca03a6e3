package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "AgentVault-Chain/internal/errors"
)

// MySQLStore 使用 MySQL 记录代理档案。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS agent_registry (
        agent_id VARCHAR(64) PRIMARY KEY,
        owner_address VARCHAR(128) NOT NULL,
        contract_address VARCHAR(128) NOT NULL,
        metadata TEXT,
        active TINYINT(1) NOT NULL DEFAULT 1,
        registered_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_agent_owner (owner_address),
        INDEX idx_agent_active (active)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agent_registry 表失败")
	}
	return nil
}

// Register 实现 Store 接口，重复登记时只更新元数据。
func (s *MySQLStore) Register(ctx context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}
	if strings.TrimSpace(agent.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "代理 ID 不能为空")
	}

	metadataValue, err := marshalMetadata(agent.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码代理 metadata 失败")
	}

	now := time.Now().Unix()
	registeredAt := agent.RegisteredAt
	if registeredAt == 0 {
		registeredAt = now
	}

	const stmt = `INSERT INTO agent_registry
        (agent_id, owner_address, contract_address, metadata, active, registered_at, updated_at)
        VALUES (?, ?, ?, ?, 1, ?, ?)
        ON DUPLICATE KEY UPDATE metadata = VALUES(metadata), updated_at = VALUES(updated_at)`

	if _, err := s.db.ExecContext(ctx, stmt,
		agent.AgentID,
		agent.OwnerAddress,
		agent.ContractAddress,
		metadataValue,
		registeredAt,
		now,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入代理档案失败")
	}
	return nil
}

// Get 返回指定代理档案。
func (s *MySQLStore) Get(ctx context.Context, agentID string) (*Agent, error) {
	const stmt = `SELECT agent_id, owner_address, contract_address, metadata, active, registered_at, updated_at
        FROM agent_registry WHERE agent_id = ?`
	row := s.db.QueryRowContext(ctx, stmt, agentID)
	return scanAgent(row)
}

// List 按注册时间倒序返回代理档案。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Agent, error) {
	if limit <= 0 {
		limit = 50
	}
	const stmt = `SELECT agent_id, owner_address, contract_address, metadata, active, registered_at, updated_at
        FROM agent_registry ORDER BY registered_at DESC, agent_id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询代理档案失败")
	}
	defer rows.Close()

	var results []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历代理档案失败")
	}
	return results, nil
}

// Deactivate 翻转活跃标记。
func (s *MySQLStore) Deactivate(ctx context.Context, agentID string) error {
	const stmt = `UPDATE agent_registry SET active = 0, updated_at = ? WHERE agent_id = ?`
	result, err := s.db.ExecContext(ctx, stmt, time.Now().Unix(), agentID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "停用代理失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取影响行数失败")
	}
	if affected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// ActiveCount 返回活跃代理数量。
func (s *MySQLStore) ActiveCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_registry WHERE active = 1`).Scan(&count); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计活跃代理失败")
	}
	return count, nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var (
		agent    Agent
		metadata sql.NullString
		active   int
	)
	err := row.Scan(
		&agent.AgentID,
		&agent.OwnerAddress,
		&agent.ContractAddress,
		&metadata,
		&active,
		&agent.RegisteredAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取代理档案失败")
	}
	agent.Active = active == 1
	if metadata.Valid && metadata.String != "" {
		decoded := make(map[string]string)
		if err := json.Unmarshal([]byte(metadata.String), &decoded); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析代理 metadata 失败")
		}
		agent.Metadata = decoded
	}
	return &agent, nil
}

func marshalMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
