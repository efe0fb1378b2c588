package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"civy/internal/api/middleware"
	"civy/internal/storage"
)

const assetURLTTL = 15 * time.Minute

// AssetHandler 负责头像上传与访问。
type AssetHandler struct {
	storage  ObjectStore
	scanner  VirusScanner
	maxBytes int64
}

// NewAssetHandler 返回 AssetHandler 实例。
func NewAssetHandler(storageClient ObjectStore, scanner VirusScanner, maxBytes int64) *AssetHandler {
	if maxBytes <= 0 || maxBytes > storage.MaxPhotoBytes {
		maxBytes = storage.MaxPhotoBytes
	}
	return &AssetHandler{storage: storageClient, scanner: scanner, maxBytes: maxBytes}
}

// UploadPhoto 扫描并保存头像，返回写入 personal.photo 的对象 key。
func (h *AssetHandler) UploadPhoto(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	log := middleware.LoggerFromContext(c)

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if file.Size > h.maxBytes {
		Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	ext := strings.ToLower(path.Ext(file.Filename))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	contentType := storage.PhotoContentType(ext)
	if contentType == "" {
		BadRequest(c, "only png and jpeg images are supported")
		return
	}

	src, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	data, err := io.ReadAll(io.LimitReader(src, h.maxBytes+1))
	_ = src.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}
	if int64(len(data)) > h.maxBytes {
		Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if sniffed := http.DetectContentType(data); sniffed != contentType {
		BadRequest(c, "file content does not match extension")
		return
	}

	if err := h.scanner.Scan(c.Request.Context(), bytes.NewReader(data)); err != nil {
		if errors.Is(err, ErrInfected) {
			log.Warn("infected upload rejected", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
			BadRequest(c, "malicious file detected")
			return
		}
		log.Error("scan file", slog.Any("error", err))
		Internal(c, "failed to scan file")
		return
	}

	objectKey := storage.PhotoKey(userID, ext)
	if err := h.storage.PutBytes(c.Request.Context(), objectKey, data, contentType); err != nil {
		log.Error("upload file", slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"objectKey": objectKey})
}

// GetAssetURL 返回资产的临时预签名 URL。
func (h *AssetHandler) GetAssetURL(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	objectKey := c.Query("key")
	if objectKey == "" {
		BadRequest(c, "missing key")
		return
	}
	if !storage.ValidUserAssetKey(userID, objectKey) {
		Forbidden(c, "access denied")
		return
	}

	signedURL, err := h.storage.PresignedDownload(c.Request.Context(), objectKey, assetURLTTL, "")
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate presigned url", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}
