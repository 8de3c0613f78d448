package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/model"
)

// MySQLRepository 账户、资料、问题、选项与投票记录的存储。
// 问题和选项从从库读取；账户与投票记录从主库读取，避免刚写入就读不到。
type MySQLRepository struct {
	masterDB *sqlx.DB
	slaveDB  *sqlx.DB
}

func NewMySQLRepository(cfg config.MySQLConfig) (*MySQLRepository, error) {
	masterDB, err := sqlx.Open("mysql", cfg.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(cfg.MaxOpenConns)
	masterDB.SetMaxIdleConns(cfg.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	if cfg.Slave == "" || cfg.Slave == cfg.Master {
		return NewMySQLRepositoryFromDB(masterDB, masterDB), nil
	}

	slaveDB, err := sqlx.Open("mysql", cfg.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(cfg.MaxOpenConns)
	slaveDB.SetMaxIdleConns(cfg.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		slog.Warn("从数据库连接测试失败，将使用主数据库代替", "error", err)
		slaveDB.Close()
		slaveDB = masterDB
	}

	return NewMySQLRepositoryFromDB(masterDB, slaveDB), nil
}

// NewMySQLRepositoryFromDB 使用已有连接创建仓库
func NewMySQLRepositoryFromDB(masterDB, slaveDB *sqlx.DB) *MySQLRepository {
	return &MySQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}
}

// Migrate 创建所有表，可重复执行
func (r *MySQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range Schema() {
		if _, err := r.masterDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("创建表结构失败: %w", err)
		}
	}
	return nil
}

// CreateAccountWithProfile 在同一个事务中创建账户与资料
func (r *MySQLRepository) CreateAccountWithProfile(ctx context.Context, account *model.Account, profile *model.Profile) error {
	tx, err := r.masterDB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (username, email, password_hash, is_staff, date_joined)
		VALUES (?, ?, ?, ?, ?)
	`, account.Username, account.Email, account.PasswordHash, account.IsStaff, account.DateJoined)
	if err != nil {
		return fmt.Errorf("创建账户 %s 失败: %w", account.Username, castErr(err))
	}
	accountID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取账户ID失败: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (account_id, avatar, bio, birth_date)
		VALUES (?, ?, ?, ?)
	`, accountID, profile.Avatar, profile.Bio, profile.BirthDate)
	if err != nil {
		return fmt.Errorf("创建账户 %d 资料失败: %w", accountID, castErr(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	account.ID = accountID
	profile.AccountID = accountID
	return nil
}

// AccountByID 按ID获取账户
func (r *MySQLRepository) AccountByID(ctx context.Context, id int64) (*model.Account, error) {
	var a model.Account
	err := r.masterDB.GetContext(ctx, &a, `
		SELECT id, username, email, password_hash, is_staff, date_joined
		FROM accounts WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("查询账户 %d 失败: %w", id, castErr(err))
	}
	return &a, nil
}

// AccountByUsername 按用户名获取账户
func (r *MySQLRepository) AccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	var a model.Account
	err := r.masterDB.GetContext(ctx, &a, `
		SELECT id, username, email, password_hash, is_staff, date_joined
		FROM accounts WHERE username = ?
	`, username)
	if err != nil {
		return nil, fmt.Errorf("查询账户 %s 失败: %w", username, castErr(err))
	}
	return &a, nil
}

// ProfileByAccount 获取账户资料
func (r *MySQLRepository) ProfileByAccount(ctx context.Context, accountID int64) (*model.Profile, error) {
	var p model.Profile
	err := r.masterDB.GetContext(ctx, &p, `
		SELECT account_id, avatar, bio, birth_date
		FROM profiles WHERE account_id = ?
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("查询账户 %d 资料失败: %w", accountID, castErr(err))
	}
	return &p, nil
}

// UpdateAccountAndProfile 在同一个事务中更新账户字段与资料字段
func (r *MySQLRepository) UpdateAccountAndProfile(ctx context.Context, account *model.Account, profile *model.Profile) error {
	tx, err := r.masterDB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	// 值未变化时MySQL返回的影响行数为0，这里不检查影响行数
	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET username = ?, email = ? WHERE id = ?
	`, account.Username, account.Email, account.ID)
	if err != nil {
		return fmt.Errorf("更新账户 %d 失败: %w", account.ID, castErr(err))
	}

	// 资料缺失时补建，与原有记录保持一对一
	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (account_id, avatar, bio, birth_date)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		avatar = VALUES(avatar),
		bio = VALUES(bio),
		birth_date = VALUES(birth_date)
	`, account.ID, profile.Avatar, profile.Bio, profile.BirthDate)
	if err != nil {
		return fmt.Errorf("更新账户 %d 资料失败: %w", account.ID, castErr(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	profile.AccountID = account.ID
	return nil
}

// ActiveQuestions 获取当前处于投票窗口内的问题，按发布时间倒序；limit不大于0时返回全部
func (r *MySQLRepository) ActiveQuestions(ctx context.Context, now time.Time, limit int) ([]*model.Question, error) {
	query := `
		SELECT id, question_text, pub_date, lifespan_days
		FROM questions
		WHERE pub_date <= ? AND DATE_ADD(pub_date, INTERVAL lifespan_days DAY) >= ?
		ORDER BY pub_date DESC, id DESC`
	args := []interface{}{now, now}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	questions := make([]*model.Question, 0)
	err := r.slaveDB.SelectContext(ctx, &questions, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询活跃问题失败: %w", castErr(err))
	}
	return questions, nil
}

// QuestionByID 按ID获取问题
func (r *MySQLRepository) QuestionByID(ctx context.Context, id int64) (*model.Question, error) {
	var q model.Question
	err := r.slaveDB.GetContext(ctx, &q, `
		SELECT id, question_text, pub_date, lifespan_days
		FROM questions WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("查询问题 %d 失败: %w", id, castErr(err))
	}
	return &q, nil
}

// ChoicesByQuestion 从从库获取问题的全部选项，按位置排序
func (r *MySQLRepository) ChoicesByQuestion(ctx context.Context, questionID int64) ([]*model.Choice, error) {
	return selectChoices(ctx, r.slaveDB, questionID)
}

// LatestChoices 从主库获取问题的全部选项，票数不受主从延迟影响
func (r *MySQLRepository) LatestChoices(ctx context.Context, questionID int64) ([]*model.Choice, error) {
	return selectChoices(ctx, r.masterDB, questionID)
}

func selectChoices(ctx context.Context, db *sqlx.DB, questionID int64) ([]*model.Choice, error) {
	choices := make([]*model.Choice, 0)
	err := db.SelectContext(ctx, &choices, `
		SELECT id, question_id, choice_text, position, votes
		FROM choices
		WHERE question_id = ?
		ORDER BY position, id
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("查询问题 %d 选项失败: %w", questionID, castErr(err))
	}
	return choices, nil
}

// ChoiceByID 获取属于指定问题的选项
func (r *MySQLRepository) ChoiceByID(ctx context.Context, questionID, choiceID int64) (*model.Choice, error) {
	var c model.Choice
	err := r.masterDB.GetContext(ctx, &c, `
		SELECT id, question_id, choice_text, position, votes
		FROM choices WHERE id = ? AND question_id = ?
	`, choiceID, questionID)
	if err != nil {
		return nil, fmt.Errorf("查询选项 %d 失败: %w", choiceID, castErr(err))
	}
	return &c, nil
}

// HasVoted 判断账户是否已对问题投票
func (r *MySQLRepository) HasVoted(ctx context.Context, accountID, questionID int64) (bool, error) {
	var exists bool
	err := r.masterDB.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM votes WHERE account_id = ? AND question_id = ?
		)
	`, accountID, questionID)
	if err != nil {
		return false, fmt.Errorf("查询投票记录失败: %w", castErr(err))
	}
	return exists, nil
}

// RecordVote 增加选项票数并写入投票记录，两步写入在同一事务中完成。
// 必须先更新选项行再插入投票记录，同一选项上的并发投票在选项行锁上排队。
// 唯一键 (account_id, question_id) 冲突时返回 ErrConflict，票数随事务回滚。
func (r *MySQLRepository) RecordVote(ctx context.Context, vote *model.Vote) error {
	tx, err := r.masterDB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE choices SET votes = votes + 1 WHERE id = ? AND question_id = ?
	`, vote.ChoiceID, vote.QuestionID)
	if err != nil {
		return fmt.Errorf("更新选项 %d 票数失败: %w", vote.ChoiceID, castErr(err))
	}
	if err := requireMatched(res); err != nil {
		return fmt.Errorf("更新选项 %d 票数失败: %w", vote.ChoiceID, err)
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO votes (account_id, question_id, choice_id, voted_at)
		VALUES (?, ?, ?, ?)
	`, vote.AccountID, vote.QuestionID, vote.ChoiceID, vote.VotedAt)
	if err != nil {
		return fmt.Errorf("记录账户 %d 投票失败: %w", vote.AccountID, castErr(err))
	}
	voteID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取投票ID失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	vote.ID = voteID
	return nil
}

// CreateQuestion 创建问题及其有序选项
func (r *MySQLRepository) CreateQuestion(ctx context.Context, question *model.Question, choices []*model.Choice) error {
	tx, err := r.masterDB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO questions (question_text, pub_date, lifespan_days)
		VALUES (?, ?, ?)
	`, question.Text, question.PubDate, question.LifespanDays)
	if err != nil {
		return fmt.Errorf("创建问题失败: %w", castErr(err))
	}
	questionID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取问题ID失败: %w", err)
	}

	choiceStmt, err := tx.PreparexContext(ctx, `
		INSERT INTO choices (question_id, choice_text, position, votes)
		VALUES (?, ?, ?, 0)
	`)
	if err != nil {
		return fmt.Errorf("准备选项语句失败: %w", err)
	}
	defer choiceStmt.Close()

	for _, c := range choices {
		res, err := choiceStmt.ExecContext(ctx, questionID, c.Text, c.Position)
		if err != nil {
			return fmt.Errorf("创建选项 %q 失败: %w", c.Text, castErr(err))
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("获取选项ID失败: %w", err)
		}
		c.QuestionID = questionID
		c.Votes = 0
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	question.ID = questionID
	return nil
}

// Ping 检查主库连接
func (r *MySQLRepository) Ping(ctx context.Context) error {
	return r.masterDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireMatched(res rowsAffecter) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取更新结果失败: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
