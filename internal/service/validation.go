package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// 用户名允许字母、数字以及 @ . + - _
var usernameRe = regexp.MustCompile(`^[\p{L}\p{N}@.+\-_]+$`)

const minPasswordLength = 8

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误信息使用表单字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("注册用户名校验规则失败: %v", err))
	}
	return v
}

// validateForm 按结构体标签校验表单，返回的 FormErrors 不为nil
func validateForm(form interface{}) FormErrors {
	errs := FormErrors{}
	err := validate.Struct(form)
	if err == nil {
		return errs
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs.Add("__all__", err.Error())
		return errs
	}
	for _, fe := range verrs {
		errs.Add(fe.Field(), fieldMessage(fe))
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "该字段为必填项"
	case "email":
		return "请输入有效的邮箱地址"
	case "username":
		return "用户名只能包含字母、数字以及 @/./+/-/_ 字符"
	case "datetime":
		return "日期格式应为 YYYY-MM-DD"
	case "max":
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("长度不能超过 %s 个字符", fe.Param())
		case reflect.Slice:
			return fmt.Sprintf("最多 %s 项", fe.Param())
		}
		return fmt.Sprintf("不能大于 %s", fe.Param())
	case "min":
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("长度不能少于 %s 个字符", fe.Param())
		case reflect.Slice:
			return fmt.Sprintf("至少需要 %s 项", fe.Param())
		}
		return fmt.Sprintf("不能小于 %s", fe.Param())
	}
	return "取值无效"
}

// validatePassword 检查两次密码一致以及基本强度规则
func validatePassword(errs FormErrors, username, password1, password2 string) {
	if password1 == "" || password2 == "" {
		return
	}
	if password1 != password2 {
		errs.Add("password2", "两次输入的密码不一致")
		return
	}
	if len([]rune(password1)) < minPasswordLength {
		errs.Add("password2", fmt.Sprintf("密码太短，至少需要 %d 个字符", minPasswordLength))
	}
	if isNumeric(password1) {
		errs.Add("password2", "密码不能全为数字")
	}
	if username != "" && strings.EqualFold(password1, username) {
		errs.Add("password2", "密码与用户名过于相似")
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
