package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrKind 存储错误分类
// 在后端调用处一次性打标，上层只判断分类，不再做字符串匹配
type ErrKind int

const (
	// KindConnection 连接类错误（重置、拒绝、找不到主机、管道关闭），可重试
	KindConnection ErrKind = iota
	// KindData 数据类错误（序列化失败、数据损坏），不可重试
	KindData
	// KindAuth 认证类错误（密码错误、用户不存在）
	KindAuth
	// KindNotFound 记录不存在
	KindNotFound
)

// 哨兵错误
var (
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "记录不存在"}
	ErrUserExists   = &Error{Kind: KindAuth, Message: "用户已存在"}
	ErrUserNotFound = &Error{Kind: KindAuth, Message: "用户不存在"}
)

// Error 带分类的存储错误
type Error struct {
	Kind    ErrKind
	Op      string // 出错的操作，如 storage.GetPlayRecord
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is 支持 errors.Is 按分类哨兵比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// KindOf 返回错误的分类，未打标的错误视为数据类
func KindOf(err error) ErrKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindData
}

// IsConnError 判断是否为连接类错误
func IsConnError(err error) bool {
	return err != nil && KindOf(err) == KindConnection
}

// classify 在调用处对底层错误打标
// 只有连接类错误会被重试包装器重试
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if isConnectionError(err) {
		return &Error{Kind: KindConnection, Op: op, Message: "连接失败", Err: err}
	}
	return &Error{Kind: KindData, Op: op, Message: "操作失败", Err: err}
}

// isConnectionError 识别底层连接类错误
func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// go-redis 在连接池关闭时返回的错误没有实现 net.Error
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "client is closed")
}
