package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"civy/internal/auth"
	"civy/internal/config"
	"civy/internal/editor"
	"civy/internal/errcode"
	"civy/internal/metrics"
	"civy/internal/preview"
	"civy/internal/raster"
	"civy/internal/service"
	"civy/internal/storage"
)

const (
	previewOutboxSize = 32
	// previewReadLimit 限制单条客户端消息，replace 操作携带整份简历。
	previewReadLimit = 512 << 10
)

// PreviewHandler 提供实时预览会话：客户端发送编辑操作，服务端推送渲染好的画面。
type PreviewHandler struct {
	resumes     *service.ResumeService
	docs        *documents
	raster      preview.Rasterizer
	authService *auth.AuthService
	cfg         config.PreviewConfig
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewPreviewHandler 构造预览处理器。
func NewPreviewHandler(resumes *service.ResumeService, docs *documents, ras preview.Rasterizer, authService *auth.AuthService, cfg config.PreviewConfig, logger *slog.Logger, allowedOrigins []string) *PreviewHandler {
	return &PreviewHandler{
		resumes:     resumes,
		docs:        docs,
		raster:      ras,
		authService: authService,
		cfg:         cfg,
		logger:      logger,
		upgrader:    newUpgrader(allowedOrigins),
	}
}

type previewInbound struct {
	Type     string     `json:"type"`
	ResumeID uint       `json:"resume_id,omitempty"`
	Op       *editor.Op `json:"op,omitempty"`
	Width    int        `json:"width,omitempty"`
}

type previewOutbound struct {
	Type      string               `json:"type"`
	State     string               `json:"state,omitempty"`
	Error     string               `json:"error,omitempty"`
	Fields    []errcode.FieldError `json:"fields,omitempty"`
	ResumeID  uint                 `json:"resume_id,omitempty"`
	Version   int                  `json:"version,omitempty"`
	PageCount int                  `json:"page_count,omitempty"`
	Width     int                  `json:"width,omitempty"`
	Height    int                  `json:"height,omitempty"`
	Scale     float64              `json:"scale,omitempty"`
	Render    uint64               `json:"render,omitempty"`
	PNG       string               `json:"png,omitempty"`
}

// HandleConnection 升级连接并运行一个预览会话，直到客户端断开。
func (h *PreviewHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(previewReadLimit)

	log := h.logger.With(slog.String("client_ip", c.ClientIP()))
	claims, err := wsAuthenticate(conn, h.authService)
	if err != nil {
		log.Warn("preview authentication failed", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	s := &previewSession{
		h:      h,
		conn:   conn,
		userID: claims.UserID,
		loc:    h.docs.negotiate(c),
		log:    log.With(slog.Uint64("user_id", uint64(claims.UserID))),
		out:    make(chan previewOutbound, previewOutboxSize),
		frames: make(chan preview.Frame, 1),
	}

	metrics.PreviewSessionOpened()
	defer metrics.PreviewSessionClosed()

	s.wg.Add(2)
	go s.writeLoop(ctx, cancel)
	go s.encodeLoop(ctx)

	s.log.Info("preview session started")
	s.readLoop(ctx)
	cancel()
	s.unload()
	s.wg.Wait()
	s.log.Info("preview session closed")
}

type previewSession struct {
	h      *PreviewHandler
	conn   *websocket.Conn
	userID uint
	loc    locale
	log    *slog.Logger

	out    chan previewOutbound
	frames chan preview.Frame
	wg     sync.WaitGroup

	// 以下字段只在 readLoop 所在 goroutine 中访问。
	resumeID uint
	store    *editor.Store
	pipeline *preview.Pipeline
	unbind   func()
}

// Present 在管线锁内调用：只保留最新一帧，编码交给 encodeLoop。
func (s *previewSession) Present(f preview.Frame) {
	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- f:
	default:
	}
}

func (s *previewSession) onStatus(st preview.Status) {
	msg := previewOutbound{Type: "status", State: string(st.State), PageCount: st.PageCount, Width: st.Width}
	if st.Err != nil {
		msg.Error = st.Err.Error()
	}
	s.send(msg)
}

// send 不阻塞；客户端读得太慢时丢弃消息。
func (s *previewSession) send(msg previewOutbound) {
	select {
	case s.out <- msg:
	default:
		s.log.Warn("preview outbox full, dropping message", slog.String("type", msg.Type))
	}
}

func (s *previewSession) sendError(err error) {
	msg := previewOutbound{Type: "error", Error: err.Error()}
	var verr *errcode.ValidationError
	if errors.As(err, &verr) {
		msg.Error = "validation failed"
		msg.Fields = verr.Fields
	}
	s.send(msg)
}

func (s *previewSession) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg previewInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(errors.New("invalid message"))
			continue
		}
		if err := s.dispatch(ctx, msg); err != nil {
			s.sendError(err)
		}
	}
}

func (s *previewSession) dispatch(ctx context.Context, msg previewInbound) error {
	switch msg.Type {
	case "load":
		return s.load(ctx, msg.ResumeID, msg.Width)
	case "edit":
		if s.store == nil {
			return errors.New("no resume loaded")
		}
		if msg.Op == nil {
			return errors.New("op required")
		}
		return s.store.Apply(*msg.Op)
	case "resize":
		if s.pipeline == nil {
			return errors.New("no resume loaded")
		}
		s.pipeline.Resize(msg.Width)
		return nil
	case "save":
		return s.save(ctx)
	default:
		return errors.New("unknown message type")
	}
}

func (s *previewSession) load(ctx context.Context, id uint, width int) error {
	rec, err := s.h.resumes.Get(ctx, s.userID, id)
	if err != nil {
		return err
	}
	s.unload()

	if width <= 0 {
		width = s.h.cfg.Width
	}
	s.resumeID = rec.ID
	s.store = editor.NewStore(rec.Data)
	s.pipeline = preview.New(s.h.docs.generator, preview.PDFDecoder(), s.h.raster, s, preview.Options{
		Width:     width,
		Padding:   s.h.cfg.Padding,
		Threshold: s.h.cfg.Threshold,
		Debounce:  s.h.cfg.Debounce,
		Labels:    s.loc.labels,
		Photos:    s.photos(),
		OnStatus:  s.onStatus,
		Logger:    s.log.With(slog.Uint64("resume_id", uint64(rec.ID))),
	})
	s.send(previewOutbound{Type: "loaded", ResumeID: rec.ID, Version: rec.Version})
	s.unbind = preview.Bind(s.store, s.pipeline)
	return nil
}

func (s *previewSession) photos() preview.PhotoLoader {
	if s.h.docs.objects == nil {
		return nil
	}
	return storage.PhotoLoader(s.h.docs.objects, s.userID)
}

func (s *previewSession) save(ctx context.Context) error {
	if s.store == nil {
		return errors.New("no resume loaded")
	}
	version := s.store.Version()
	snap := s.store.Snapshot()
	rec, err := s.h.resumes.Save(ctx, s.userID, s.resumeID, service.SaveInput{Data: &snap})
	if err != nil {
		return err
	}
	s.store.MarkSaved(version)
	s.send(previewOutbound{Type: "saved", ResumeID: rec.ID, Version: rec.Version})
	return nil
}

func (s *previewSession) unload() {
	if s.unbind != nil {
		s.unbind()
		s.unbind = nil
	}
	if s.pipeline != nil {
		s.pipeline.Close()
		s.pipeline.Wait()
		s.pipeline = nil
	}
	s.store = nil
	s.resumeID = 0
}

func (s *previewSession) encodeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.frames:
			data, err := raster.EncodePNG(f.Image)
			if err != nil {
				s.log.Error("encode preview frame failed", slog.Any("error", err))
				continue
			}
			s.send(previewOutbound{
				Type:      "frame",
				PageCount: f.PageCount,
				Width:     f.Width,
				Height:    f.Height,
				Scale:     f.Scale,
				Render:    f.Render,
				PNG:       base64.StdEncoding.EncodeToString(data),
			})
		}
	}
}

// writeLoop 是连接唯一的写者。
func (s *previewSession) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer s.wg.Done()
	defer cancel()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.log.Info("preview write failed", slog.Any("error", err))
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}
