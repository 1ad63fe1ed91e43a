package gamification

import (
	"context"
	"net/http"
	"strconv"

	"ecoquest/pkg/db/pagination"
	"ecoquest/pkg/errutil"
	"ecoquest/pkg/middleware"
	"ecoquest/services/catalog"
	"ecoquest/services/progress"
	"ecoquest/services/stats"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const IdempotencyHeader = "Idempotency-Key"

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

type Handler struct {
	svc      *Service
	catalog  *catalog.Service
	progress *progress.Service
	stats    *stats.Service
	idem     *Idempotency
	auth     *middleware.Authenticator
}

type HandlerParams struct {
	fx.In
	Service     *Service
	Catalog     *catalog.Service
	Progress    *progress.Service
	Stats       *stats.Service
	Idempotency *Idempotency
	Auth        *middleware.Authenticator
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		svc:      p.Service,
		catalog:  p.Catalog,
		progress: p.Progress,
		stats:    p.Stats,
		idem:     p.Idempotency,
		auth:     p.Auth,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	fn := r.Group("/functions/v1", h.auth.Auth())
	fn.POST("/start-challenge", h.StartChallenge)
	fn.POST("/complete-challenge", h.CompleteChallenge)
	fn.POST("/complete-quiz", h.CompleteQuiz)
	fn.POST("/log-activity", h.LogActivity)

	api := r.Group("/api/v1")
	cat := api.Group("/catalog")
	cat.GET("/activities", h.ListActivities)
	cat.GET("/quizzes", h.ListQuizzes)
	cat.GET("/challenges", h.ListChallenges)
	cat.GET("/badges", h.ListBadges)

	me := api.Group("/me", h.auth.Auth())
	me.GET("/profile", h.GetProfile)
	me.GET("/challenges", h.ListMyChallenges)
	me.GET("/quiz-attempts", h.ListMyQuizAttempts)
	me.GET("/activities", h.ListMyActivities)
	me.GET("/points/verify", h.VerifyPoints)

	api.GET("/leaderboard", h.auth.Auth(), h.Leaderboard)
}

// mutate binds the JSON body into req and runs fn, honouring the
// Idempotency-Key header when present.
func mutate[Req, Resp any](c *gin.Context, h *Handler, scope string, fn func(ctx context.Context, userID string, req Req) (*Resp, error)) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	var req Req
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		_ = c.Error(errutil.BadRequest("Invalid request body", err))
		return
	}

	key := c.GetHeader(IdempotencyHeader)
	if key == "" {
		resp, err := fn(ctx, userID, req)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	var body []byte
	if raw, ok := c.Get(gin.BodyBytesKey); ok {
		body, _ = raw.([]byte)
	}

	rec, replay, err := h.idem.Begin(ctx, userID, scope, key, body)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if replay {
		c.Header("Idempotent-Replayed", "true")
		c.Data(rec.StatusCode, binding.MIMEJSON+"; charset=utf-8", rec.Response)
		return
	}

	resp, err := fn(ctx, userID, req)
	if err != nil {
		if rerr := h.idem.Release(ctx, rec); rerr != nil {
			logger(ctx, userID).Warn("failed to release idempotency key", zap.String("scope", scope), zap.Error(rerr))
		}
		_ = c.Error(err)
		return
	}
	if err := h.idem.Complete(ctx, rec, http.StatusOK, resp); err != nil {
		logger(ctx, userID).Warn("failed to store idempotent response", zap.String("scope", scope), zap.Error(err))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) StartChallenge(c *gin.Context) {
	mutate(c, h, "start-challenge", h.svc.StartChallenge)
}

func (h *Handler) CompleteChallenge(c *gin.Context) {
	mutate(c, h, "complete-challenge", h.svc.CompleteChallenge)
}

func (h *Handler) CompleteQuiz(c *gin.Context) {
	mutate(c, h, "complete-quiz", h.svc.CompleteQuiz)
}

func (h *Handler) LogActivity(c *gin.Context) {
	mutate(c, h, "log-activity", h.svc.LogActivity)
}

func (h *Handler) ListActivities(c *gin.Context) {
	rows, err := h.catalog.ListActivities(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: rows})
}

func (h *Handler) ListQuizzes(c *gin.Context) {
	rows, err := h.catalog.ListQuizzes(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: rows})
}

func (h *Handler) ListChallenges(c *gin.Context) {
	rows, err := h.catalog.ListChallenges(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: rows})
}

func (h *Handler) ListBadges(c *gin.Context) {
	rows, err := h.catalog.ListBadges(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: rows})
}

func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.stats.GetProfile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: profile})
}

func queryPagination(c *gin.Context) (pagination.Pagination, error) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		return p, errutil.BadRequest("invalid pagination", err)
	}
	return p, nil
}

func pageInfo(info *pagination.PageInfo) *PageInfo {
	if info == nil {
		return nil
	}
	return &PageInfo{NextCursor: info.NextCursor, HasMore: info.HasMore}
}

func (h *Handler) ListMyChallenges(c *gin.Context) {
	p, err := queryPagination(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := progress.ChallengeStatus(c.Query("status"))
	switch status {
	case "", progress.ChallengeStatusActive, progress.ChallengeStatusCompleted:
	default:
		_ = c.Error(errutil.BadRequest("invalid status", nil))
		return
	}

	rows, info, err := h.progress.ListChallenges(c.Request.Context(), middleware.UserID(c), status, p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: rows, PageInfo: pageInfo(info)})
}

func (h *Handler) ListMyQuizAttempts(c *gin.Context) {
	p, err := queryPagination(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	rows, info, err := h.progress.ListQuizAttempts(c.Request.Context(), middleware.UserID(c), p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: rows, PageInfo: pageInfo(info)})
}

func (h *Handler) ListMyActivities(c *gin.Context) {
	p, err := queryPagination(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	rows, info, err := h.progress.ListActivities(c.Request.Context(), middleware.UserID(c), p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: rows, PageInfo: pageInfo(info)})
}

func (h *Handler) VerifyPoints(c *gin.Context) {
	report, err := h.stats.VerifyChain(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: report})
}

func (h *Handler) Leaderboard(c *gin.Context) {
	limit, offset := defaultLeaderboardLimit, 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			_ = c.Error(errutil.BadRequest("invalid limit", err))
			return
		}
		limit = min(v, maxLeaderboardLimit)
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			_ = c.Error(errutil.BadRequest("invalid offset", err))
			return
		}
		offset = v
	}

	rows, err := h.stats.Leaderboard(c.Request.Context(), limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Success: true, Data: rows})
}
