package storage

import (
	"fmt"

	"github.com/google/uuid"
)

// 对象 key 布局：
//
//	exports/<user>/<resume>/<uuid>.pdf
//	thumbnails/resume/<resume>/preview.jpg
//	user-assets/<user>/<uuid>.<ext>
const (
	ExportsPrefix    = "exports/"
	ThumbnailsPrefix = "thumbnails/resume/"
	UserAssetsPrefix = "user-assets/"
)

// ExportKey 返回一次 PDF 导出的对象 key。
func ExportKey(userID, resumeID uint) string {
	return fmt.Sprintf("%s%d/%d/%s.pdf", ExportsPrefix, userID, resumeID, uuid.NewString())
}

// ResumeExportsPrefix 是某份简历全部导出的前缀。
func ResumeExportsPrefix(userID, resumeID uint) string {
	return fmt.Sprintf("%s%d/%d/", ExportsPrefix, userID, resumeID)
}

// ThumbnailKey 返回简历缩略图的固定 key，新缩略图覆盖旧的。
func ThumbnailKey(resumeID uint) string {
	return fmt.Sprintf("%s%d/preview.jpg", ThumbnailsPrefix, resumeID)
}

// UserAssetsPrefixFor 返回用户资产目录。
func UserAssetsPrefixFor(userID uint) string {
	return fmt.Sprintf("%s%d/", UserAssetsPrefix, userID)
}

// PhotoKey 为上传的照片生成新 key。
func PhotoKey(userID uint, ext string) string {
	return fmt.Sprintf("%s%s%s", UserAssetsPrefixFor(userID), uuid.NewString(), ext)
}
