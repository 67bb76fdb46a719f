package api

import (
	"errors"
	"net/http"

	"loyalty-checkin/pkg/db/pagination"
	"loyalty-checkin/pkg/errutil"
	"loyalty-checkin/pkg/featureflags"
	"loyalty-checkin/pkg/middleware"
	"loyalty-checkin/pkg/task"
	"loyalty-checkin/services/backfill"
	"loyalty-checkin/services/checkin"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/readmodel"
	"loyalty-checkin/services/roulette"
	"loyalty-checkin/services/settings"
	"loyalty-checkin/services/spins"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
)

type Handler struct {
	processor *checkin.Processor
	roulette  *roulette.Service
	readModel *readmodel.Service
	engine    *issuance.Engine
	wallet    *spins.Wallet
	backfill  *backfill.Task
	settings  *settings.Service
	flags     featureflags.Gate
}

type HandlerParams struct {
	fx.In
	Processor *checkin.Processor
	Roulette  *roulette.Service
	ReadModel *readmodel.Service
	Engine    *issuance.Engine
	Wallet    *spins.Wallet
	Backfill  *backfill.Task
	Settings  *settings.Service
	Flags     featureflags.Gate `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		processor: p.Processor,
		roulette:  p.Roulette,
		readModel: p.ReadModel,
		engine:    p.Engine,
		wallet:    p.Wallet,
		backfill:  p.Backfill,
		settings:  p.Settings,
		flags:     p.Flags,
	}
}

var errFeatureDisabled = errors.New("feature disabled")

func (h *Handler) enabled(c *gin.Context, feature string) bool {
	if h.flags == nil || h.flags.Enabled(c.Request.Context(), middleware.UserID(c), feature) {
		return true
	}
	middleware.Abort(c, errutil.Unavailable(feature+" is temporarily unavailable", errFeatureDisabled))
	return false
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errutil.BadRequest("invalid request", err)
	}

	details := make([]errutil.Detail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, errutil.Detail{
			Field:   fe.Field(),
			Message: "failed on the '" + fe.Tag() + "' rule",
		})
	}
	return errutil.ValidationFailed("request validation failed", nil, errutil.WithDetails(details...))
}

func (h *Handler) CheckIn(c *gin.Context) {
	if !h.enabled(c, featureflags.CheckIn) {
		return
	}

	var req checkin.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}
	req.UserID = middleware.UserID(c)

	out, err := h.processor.ProcessCheckIn(c.Request.Context(), req)
	if err != nil {
		middleware.Abort(c, checkin.ToAPIError(err))
		return
	}

	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, out)
}

func (h *Handler) History(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}

	rows, info, err := h.processor.History(c.Request.Context(), middleware.UserID(c), page)
	if err != nil {
		middleware.Abort(c, checkin.ToAPIError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"check_ins": rows, "page_info": info})
}

func (h *Handler) Spin(c *gin.Context) {
	if !h.enabled(c, featureflags.Roulette) {
		return
	}

	out, err := h.roulette.Spin(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		middleware.Abort(c, roulette.ToAPIError(err))
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Profile(c *gin.Context) {
	stats, err := h.readModel.ProfileStats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		middleware.Abort(c, errutil.Internal("failed to load profile", err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Streak(c *gin.Context) {
	view, err := h.readModel.StreakStage(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		middleware.Abort(c, errutil.Internal("failed to load streak", err))
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Coupons(c *gin.Context) {
	coupons, err := h.readModel.AvailableCoupons(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		middleware.Abort(c, errutil.Internal("failed to load coupons", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

func (h *Handler) Spins(c *gin.Context) {
	view, err := h.readModel.SpinCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		middleware.Abort(c, errutil.Internal("failed to load spins", err))
		return
	}
	c.JSON(http.StatusOK, view)
}

type grantCouponRequest struct {
	UserID               string `json:"user_id" binding:"required"`
	PrizeID              string `json:"prize_id" binding:"required"`
	ValidityDaysOverride *int   `json:"validity_days_override" binding:"omitempty,min=1"`
}

func (h *Handler) GrantCoupon(c *gin.Context) {
	var req grantCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}

	coupon, err := h.engine.Issue(c.Request.Context(), issuance.IssueRequest{
		PrizeID:              req.PrizeID,
		UserID:               req.UserID,
		Source:               issuance.SourceManual,
		ValidityDaysOverride: req.ValidityDaysOverride,
	})
	if err != nil {
		middleware.Abort(c, issuance.ToAPIError(err))
		return
	}
	c.JSON(http.StatusCreated, coupon)
}

type grantSpinsRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int    `json:"amount" binding:"required,min=1"`
}

func (h *Handler) GrantSpins(c *gin.Context) {
	var req grantSpinsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}

	row, err := h.wallet.Grant(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		if errors.Is(err, spins.ErrInvalidGrant) {
			middleware.Abort(c, errutil.BadRequest(err.Error(), err))
			return
		}
		middleware.Abort(c, errutil.Internal("failed to grant spins", err))
		return
	}
	c.JSON(http.StatusOK, row)
}

// RebuildStreak queues a rebuild, or runs it inline when no queue is
// configured.
func (h *Handler) RebuildStreak(c *gin.Context) {
	userID := c.Param("user_id")

	info, err := h.backfill.Enqueue(c.Request.Context(), userID)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue})
		return
	case errors.Is(err, backfill.ErrUserRequired):
		middleware.Abort(c, errutil.BadRequest(err.Error(), err))
		return
	case !errors.Is(err, task.ErrQueueDisabled):
		middleware.Abort(c, errutil.Unavailable("failed to enqueue rebuild", err))
		return
	}

	rec, err := h.backfill.Rebuild(c.Request.Context(), userID)
	if err != nil {
		middleware.Abort(c, errutil.Internal("failed to rebuild streak", err))
		return
	}
	_ = h.readModel.Invalidate(c.Request.Context(), userID, readmodel.KindStreak, readmodel.KindProfileStats)
	c.JSON(http.StatusOK, gin.H{"streak": rec})
}

type updateSettingRequest struct {
	Value string `json:"value" binding:"required"`
}

func (h *Handler) UpdateSetting(c *gin.Context) {
	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}

	key := c.Param("key")
	if err := h.settings.Set(c.Request.Context(), key, req.Value); err != nil {
		switch {
		case errors.Is(err, settings.ErrUnknownKey):
			middleware.Abort(c, errutil.NotFound(err.Error(), err))
		case errors.Is(err, settings.ErrInvalidValue):
			middleware.Abort(c, errutil.ValidationFailed(err.Error(), err))
		default:
			middleware.Abort(c, errutil.Internal("failed to update setting", err))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
