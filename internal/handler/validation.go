package handler

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators 注册自定义校验规则
// username 是所有存储键的命名空间片段，只允许字母、数字、下划线和连字符，
// 防止用户名里混进键分隔符污染键空间
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		for _, r := range name {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			case r == '_' || r == '-':
			default:
				return false
			}
		}
		return true
	})
}
