package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrSQLUnavailable 表示关系型数据库客户端未能初始化
var ErrSQLUnavailable = errors.New("关系型数据库不可用")

// PostgreSQL 错误码
const (
	pgUndefinedTable      = "42P01"
	pgInvalidCatalogName  = "3D000"
	pgInvalidSchemaName   = "3F000"
	pgSerializationFailed = "40001"
	pgDeadlockDetected    = "40P01"
)

// IsStorageUnready 判断错误是否表示存储尚未就绪：表或库不存在、客户端初始化失败。
// 这类错误由部署状态导致，调用方稍后重试即可，不应当作一般的服务器错误。
func IsStorageUnready(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSQLUnavailable) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUndefinedTable, pgInvalidCatalogName, pgInvalidSchemaName:
			return true
		}
		return false
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "does not exist")
}

// IsRetryableError 判断一个数据库错误是否值得短间隔重试
func IsRetryableError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailed || pgErr.Code == pgDeadlockDetected
	}
	return false
}
