package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// BytesMD5 计算字节数组MD5
func BytesMD5(data []byte) string {
	hash := md5.New()
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}

// JoinMD5 依次写入多段数据后计算MD5
func JoinMD5(parts ...[]byte) string {
	hash := md5.New()
	for _, p := range parts {
		hash.Write(p)
		hash.Write([]byte{0})
	}
	return hex.EncodeToString(hash.Sum(nil))
}
