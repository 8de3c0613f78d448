package service

import (
	"context"

	"github.com/lvdashuaibi/littlepolls/internal/model"
)

type accountKey struct{}

// WithAccount 把当前登录账户放入请求上下文
func WithAccount(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// AccountFromContext 取出当前登录账户，未登录时返回nil
func AccountFromContext(ctx context.Context) *model.Account {
	account, _ := ctx.Value(accountKey{}).(*model.Account)
	return account
}
