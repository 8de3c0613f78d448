package service

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrQuestionNotFound   = errors.New("问题不存在")
	ErrAccountNotFound    = errors.New("账户不存在")
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrForbidden          = errors.New("没有权限")
)

// FormErrors 表单校验错误，键为表单字段名
type FormErrors map[string][]string

// Add 为字段追加一条错误信息
func (e FormErrors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Get 返回字段的第一条错误信息
func (e FormErrors) Get(field string) string {
	if msgs := e[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// OrNil 没有错误时返回nil，方便调用方判断
func (e FormErrors) OrNil() FormErrors {
	if len(e) == 0 {
		return nil
	}
	return e
}

func (e FormErrors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e[f], "; "))
	}
	return strings.Join(parts, ", ")
}
