package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"unicode/utf8"
)

// MaxPhotoBytes 是头像读取与上传的大小上限。
const MaxPhotoBytes = 5 << 20

// ErrForeignAsset 表示对象 key 不属于当前用户。
var ErrForeignAsset = errors.New("asset does not belong to user")

var photoExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// PhotoContentType 返回扩展名对应的 MIME 类型，不支持的扩展名返回空串。
func PhotoContentType(ext string) string {
	return photoExts[strings.ToLower(ext)]
}

// ValidUserAssetKey 校验 key 位于用户自己的资产目录且是支持的图片格式。
func ValidUserAssetKey(userID uint, key string) bool {
	if key == "" || len(key) > 200 || !utf8.ValidString(key) {
		return false
	}
	if !strings.HasPrefix(key, UserAssetsPrefixFor(userID)) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	return PhotoContentType(path.Ext(key)) != ""
}

// ObjectReader 是读取对象内容的最小接口。
type ObjectReader interface {
	GetBytes(ctx context.Context, objectKey string, limit int64) ([]byte, error)
}

// PhotoLoader 返回只允许读取 userID 自己资产的加载函数。
func PhotoLoader(r ObjectReader, userID uint) func(ctx context.Context, key string) ([]byte, error) {
	return func(ctx context.Context, key string) ([]byte, error) {
		if !ValidUserAssetKey(userID, key) {
			return nil, ErrForeignAsset
		}
		return r.GetBytes(ctx, key, MaxPhotoBytes)
	}
}
