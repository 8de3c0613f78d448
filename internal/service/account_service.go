package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/lvdashuaibi/littlepolls/internal/media"
	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/lvdashuaibi/littlepolls/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const birthDateLayout = "2006-01-02"

// Registration 注册表单
type Registration struct {
	Username  string                `form:"username" validate:"required,max=150,username"`
	Email     string                `form:"email" validate:"required,max=254,email"`
	Password1 string                `form:"password1" validate:"required"`
	Password2 string                `form:"password2" validate:"required"`
	Avatar    *multipart.FileHeader `form:"avatar" validate:"required"`
}

// ProfileUpdate 资料编辑表单，Avatar为空时保留原头像
type ProfileUpdate struct {
	Username  string                `form:"username" validate:"required,max=250,username"`
	Email     string                `form:"email" validate:"required,max=254,email"`
	Avatar    *multipart.FileHeader `form:"avatar"`
	Bio       string                `form:"bio" validate:"max=5000"`
	BirthDate string                `form:"birth_date" validate:"omitempty,datetime=2006-01-02"`
}

type AccountService struct {
	accounts   AccountStore
	sessions   SessionStore
	avatars    AvatarStore
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

func NewAccountService(accounts AccountStore, sessions SessionStore, avatars AvatarStore, sessionTTL time.Duration) *AccountService {
	return &AccountService{
		accounts:   accounts,
		sessions:   sessions,
		avatars:    avatars,
		sessionTTL: sessionTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// SetBcryptCost 调整密码哈希强度，测试中使用 bcrypt.MinCost
func (s *AccountService) SetBcryptCost(cost int) {
	s.bcryptCost = cost
}

// Register 校验注册表单并在同一个事务中创建账户与资料。
// 表单不合法时返回 FormErrors，不会创建任何记录。
func (s *AccountService) Register(ctx context.Context, form Registration) (*model.Account, FormErrors, error) {
	form.Username = strings.TrimSpace(form.Username)
	form.Email = strings.TrimSpace(form.Email)

	errs := validateForm(form)
	validatePassword(errs, form.Username, form.Password1, form.Password2)
	if len(errs) > 0 {
		return nil, errs, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password1), s.bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("生成密码哈希失败: %w", err)
	}

	avatar, errs, err := s.saveAvatar(ctx, form.Avatar)
	if errs != nil || err != nil {
		return nil, errs, err
	}

	account := &model.Account{
		Username:     form.Username,
		Email:        form.Email,
		PasswordHash: string(hash),
		DateJoined:   s.now().UTC(),
	}
	profile := &model.Profile{Avatar: avatar}

	if err := s.accounts.CreateAccountWithProfile(ctx, account, profile); err != nil {
		s.deleteAvatar(ctx, avatar)
		if errors.Is(err, repository.ErrConflict) {
			return nil, FormErrors{"username": {"该用户名已被使用"}}, nil
		}
		return nil, nil, fmt.Errorf("注册账户失败: %w", err)
	}

	slog.Info("账户已注册", "account_id", account.ID, "username", account.Username)
	return account, nil, nil
}

// Authenticate 校验用户名和密码
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	account, err := s.accounts.AccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// StartSession 为账户建立登录会话，返回会话键
func (s *AccountService) StartSession(ctx context.Context, account *model.Account) (string, error) {
	key, err := s.sessions.CreateSession(ctx, account.ID, s.sessionTTL)
	if err != nil {
		return "", fmt.Errorf("创建账户 %d 会话失败: %w", account.ID, err)
	}
	return key, nil
}

// SessionAccount 获取会话对应的账户，会话无效时返回 nil, nil
func (s *AccountService) SessionAccount(ctx context.Context, key string) (*model.Account, error) {
	if key == "" {
		return nil, nil
	}
	accountID, found, err := s.sessions.SessionAccountID(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("获取会话失败: %w", err)
	}
	if !found {
		return nil, nil
	}

	account, err := s.accounts.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("获取会话账户失败: %w", err)
	}
	return account, nil
}

// EndSession 注销会话
func (s *AccountService) EndSession(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.sessions.DeleteSession(ctx, key)
}

// Profile 获取账户及其资料
func (s *AccountService) Profile(ctx context.Context, accountID int64) (*model.Account, *model.Profile, error) {
	account, err := s.accounts.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrAccountNotFound
		}
		return nil, nil, fmt.Errorf("获取账户失败: %w", err)
	}

	profile, err := s.accounts.ProfileByAccount(ctx, accountID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("获取账户资料失败: %w", err)
		}
		profile = &model.Profile{AccountID: accountID}
	}
	return account, profile, nil
}

// UpdateProfile 同时更新账户字段与资料字段，成功后account会被更新
func (s *AccountService) UpdateProfile(ctx context.Context, account *model.Account, form ProfileUpdate) (FormErrors, error) {
	form.Username = strings.TrimSpace(form.Username)
	form.Email = strings.TrimSpace(form.Email)
	form.BirthDate = strings.TrimSpace(form.BirthDate)

	if errs := validateForm(form); len(errs) > 0 {
		return errs, nil
	}

	var birthDate *time.Time
	if form.BirthDate != "" {
		d, err := time.Parse(birthDateLayout, form.BirthDate)
		if err != nil {
			return FormErrors{"birth_date": {"日期格式应为 YYYY-MM-DD"}}, nil
		}
		birthDate = &d
	}

	_, profile, err := s.Profile(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	oldAvatar := profile.Avatar

	if form.Avatar != nil {
		avatar, errs, err := s.saveAvatar(ctx, form.Avatar)
		if errs != nil || err != nil {
			return errs, err
		}
		profile.Avatar = avatar
	}
	profile.Bio = form.Bio
	profile.BirthDate = birthDate

	updated := *account
	updated.Username = form.Username
	updated.Email = form.Email

	if err := s.accounts.UpdateAccountAndProfile(ctx, &updated, profile); err != nil {
		if profile.Avatar != oldAvatar {
			s.deleteAvatar(ctx, profile.Avatar)
		}
		if errors.Is(err, repository.ErrConflict) {
			return FormErrors{"username": {"该用户名已被使用"}}, nil
		}
		return nil, fmt.Errorf("更新账户 %d 资料失败: %w", account.ID, err)
	}

	if profile.Avatar != oldAvatar {
		s.deleteAvatar(ctx, oldAvatar)
	}
	*account = updated
	return nil, nil
}

func (s *AccountService) saveAvatar(ctx context.Context, file *multipart.FileHeader) (string, FormErrors, error) {
	name, err := s.avatars.Save(ctx, file)
	switch {
	case err == nil:
		return name, nil, nil
	case errors.Is(err, media.ErrNotImage):
		return "", FormErrors{"avatar": {"请上传有效的图片文件"}}, nil
	case errors.Is(err, media.ErrTooLarge):
		return "", FormErrors{"avatar": {"图片文件过大"}}, nil
	}
	return "", nil, fmt.Errorf("保存头像失败: %w", err)
}

func (s *AccountService) deleteAvatar(ctx context.Context, name string) {
	if name == "" {
		return
	}
	if err := s.avatars.Delete(ctx, name); err != nil {
		slog.Warn("删除头像失败", "avatar", name, "error", err)
	}
}
