package util

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/google/uuid"
)

// Md5ThenHex is a quick hasher
func Md5ThenHex(value []byte) string {
	sum := md5.Sum(value)
	return hex.EncodeToString(sum[:])
}

// ContentID folds the md5 of data into a stable UUID, so identical bytes
// always get the same id.
func ContentID(data []byte) string {
	sum := md5.Sum(data)
	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		return ""
	}
	return id.String()
}
