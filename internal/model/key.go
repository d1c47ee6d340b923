package model

import (
	"fmt"
	"strings"
)

// GenerateStorageKey 生成存储键，格式为 source+id
// 同一用户命名空间内唯一标识一部影片
func GenerateStorageKey(source, id string) string {
	return source + "+" + id
}

// ParseStorageKey 解析存储键，返回 (source, id)
// source 中不允许出现 +，id 中允许（按第一个 + 切分）
func ParseStorageKey(key string) (string, string, error) {
	idx := strings.Index(key, "+")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", fmt.Errorf("无效的存储键: %q", key)
	}
	return key[:idx], key[idx+1:], nil
}
