package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// GenerateID 生成基于时间戳的ID
func GenerateID() int64 {
	return time.Now().UnixNano()
}

// NewSessionID 生成会话ID，随机源不可用时退回时间戳
func NewSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(GenerateID(), 36)
	}
	return hex.EncodeToString(buf)
}
