package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrNotFound = errors.New("记录不存在")
	ErrConflict = errors.New("记录冲突")
)

// MySQL 唯一键冲突错误码
const mysqlDuplicateEntry = 1062

// castErr 把驱动层错误替换成便于比较的仓库错误
func castErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return ErrConflict
	}
	return err
}
