package factory

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentVault-Chain/internal/errors"
)

// MySQLStore 使用 MySQL 持久化部署回执。
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
	const deployments = `CREATE TABLE IF NOT EXISTS deployments (
        deployment_id BIGINT UNSIGNED PRIMARY KEY,
        contract_address VARCHAR(128) NOT NULL,
        agent_id VARCHAR(64) NOT NULL,
        owner_id VARCHAR(128) NOT NULL,
        tx_hash VARCHAR(128) DEFAULT '',
        block_seq BIGINT UNSIGNED NOT NULL DEFAULT 0,
        fee_paid BIGINT UNSIGNED NOT NULL DEFAULT 0,
        deployed_at BIGINT NOT NULL,
        contract_version VARCHAR(32) DEFAULT '',
        INDEX idx_deploy_owner (owner_id),
        INDEX idx_deploy_agent (agent_id)
)`
	if _, err := s.db.Exec(deployments); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 deployments 表失败")
	}

	const sequence = `CREATE TABLE IF NOT EXISTS deployment_sequence (
        name VARCHAR(32) PRIMARY KEY,
        next_id BIGINT UNSIGNED NOT NULL
)`
	if _, err := s.db.Exec(sequence); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 deployment_sequence 表失败")
	}
	if _, err := s.db.Exec(`INSERT IGNORE INTO deployment_sequence (name, next_id) VALUES ('deployments', 0)`); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化部署序列失败")
	}
	return nil
}

// NextID 原子地推进并返回部署序列。
func (s *MySQLStore) NextID(ctx context.Context) (uint64, error) {
	// LAST_INSERT_ID 技巧保证单条语句内的原子自增。
	const advance = `UPDATE deployment_sequence SET next_id = LAST_INSERT_ID(next_id + 1) WHERE name = 'deployments'`
	res, err := s.db.ExecContext(ctx, advance)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "推进部署序列失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return 0, xerrors.New(xerrors.CodeStorageFailure, "部署序列未初始化")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取部署序列失败")
	}
	return uint64(id), nil
}

// Save 写入部署回执。
func (s *MySQLStore) Save(ctx context.Context, result *DeploymentResult) error {
	if result == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "部署回执不能为空")
	}
	if result.DeploymentID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "部署 ID 不能为 0")
	}

	const stmt = `INSERT INTO deployments
        (deployment_id, contract_address, agent_id, owner_id, tx_hash, block_seq, fee_paid, deployed_at, contract_version)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		result.DeploymentID,
		result.ContractAddress,
		result.AgentID,
		result.OwnerID,
		result.TxHash,
		result.BlockSeq,
		result.FeePaid,
		result.DeployedAt,
		result.ContractVersion,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "部署 ID 已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入部署回执失败")
	}
	return nil
}

// Get 返回指定的部署回执。
func (s *MySQLStore) Get(ctx context.Context, deploymentID uint64) (*DeploymentResult, error) {
	const stmt = `SELECT deployment_id, contract_address, agent_id, owner_id, tx_hash, block_seq, fee_paid, deployed_at, contract_version
        FROM deployments WHERE deployment_id = ?`

	row := s.db.QueryRowContext(ctx, stmt, deploymentID)

	var result DeploymentResult
	if err := row.Scan(
		&result.DeploymentID,
		&result.ContractAddress,
		&result.AgentID,
		&result.OwnerID,
		&result.TxHash,
		&result.BlockSeq,
		&result.FeePaid,
		&result.DeployedAt,
		&result.ContractVersion,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(xerrors.CodeNotFound, "部署记录不存在")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询部署回执失败")
	}
	return &result, nil
}

// ListByOwner 返回指定所有者的全部部署回执。
func (s *MySQLStore) ListByOwner(ctx context.Context, ownerID string) ([]*DeploymentResult, error) {
	const stmt = `SELECT deployment_id, contract_address, agent_id, owner_id, tx_hash, block_seq, fee_paid, deployed_at, contract_version
        FROM deployments WHERE owner_id = ? ORDER BY deployment_id ASC`
	return s.queryDeployments(ctx, stmt, ownerID)
}

// ListAll 返回最近的部署回执。
func (s *MySQLStore) ListAll(ctx context.Context, limit int) ([]*DeploymentResult, error) {
	if limit <= 0 {
		limit = 50
	}
	const stmt = `SELECT deployment_id, contract_address, agent_id, owner_id, tx_hash, block_seq, fee_paid, deployed_at, contract_version
        FROM deployments ORDER BY deployment_id DESC LIMIT ?`
	return s.queryDeployments(ctx, stmt, limit)
}

func (s *MySQLStore) queryDeployments(ctx context.Context, stmt string, args ...any) ([]*DeploymentResult, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询部署列表失败")
	}
	defer rows.Close()

	var results []*DeploymentResult
	for rows.Next() {
		var result DeploymentResult
		if err := rows.Scan(
			&result.DeploymentID,
			&result.ContractAddress,
			&result.AgentID,
			&result.OwnerID,
			&result.TxHash,
			&result.BlockSeq,
			&result.FeePaid,
			&result.DeployedAt,
			&result.ContractVersion,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析部署记录失败")
		}
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历部署记录失败")
	}
	return results, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ DeploymentStore = (*MySQLStore)(nil)
