package game

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Web-Am/buzzer/domain"
)

var (
	ErrRoomNotFoundStr       = "room-not-found"
	ErrRoundNotFoundStr      = "round-not-found"
	ErrPlayerNotFoundStr     = "player-not-found"
	ErrRoomConflictStr       = "room-conflict"
	ErrNotEnoughPointsStr    = "not-enough-points"
	ErrAlreadyLeadingStr     = "already-leading"
	ErrTooManyRequestsStr    = "too-many-requests"
	ErrInvalidRequestStr     = "bad-request-format"
	ErrInvalidSettingsStr    = "invalid-settings"
	ErrUnknownGameErrStr     = "unknown-error"
	ErrRoundAlreadyOverStr   = "round-already-over"
	ErrWrongRoundStateStr    = "wrong-round-state"
	ErrSessionNotActiveStr   = "session-not-active"
	ErrStoreContentionStr    = "store-contention"
	ErrServerTimeoutGameStr  = "server-timeout"
	ErrParticipantMissingStr = "participant-not-found"
)

type ArchiveLister interface {
	ListArchivedRounds(ctx context.Context, roomCode string, limit int) ([]domain.ArchivedRound, error)
}

type GameHandler struct {
	rooms   *RoomService
	session *SessionService
	history ArchiveLister

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

func NewGameHandler(rooms *RoomService, session *SessionService, history ArchiveLister) *GameHandler {
	return &GameHandler{
		rooms:    rooms,
		session:  session,
		history:  history,
		limiters: map[string]*rate.Limiter{},
	}
}

// limiter returns the per-caller token bucket, one accepted action per second
// with a burst of five. Buckets are never evicted; the key space is bounded
// by the people actually playing.
func (h *GameHandler) limiter(key string) *rate.Limiter {
	h.limitersMu.Lock()
	defer h.limitersMu.Unlock()
	l, ok := h.limiters[key]
	if !ok {
		l = rate.NewLimiter(1, 5)
		h.limiters[key] = l
	}
	return l
}

func abortGameError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": ErrRoomNotFoundStr})
	case errors.Is(err, ErrRoundNotFound):
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": ErrRoundNotFoundStr})
	case errors.Is(err, ErrParticipantNotFound):
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": ErrParticipantMissingStr})
	case errors.Is(err, ErrPlayerNotFound):
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": ErrPlayerNotFoundStr})
	case errors.Is(err, ErrRoomExists):
		ctx.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": ErrRoomConflictStr})
	case errors.Is(err, ErrInsufficientPoints):
		ctx.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": ErrNotEnoughPointsStr})
	case errors.Is(err, ErrAlreadyLeading):
		ctx.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": ErrAlreadyLeadingStr})
	case errors.Is(err, ErrAlreadyFinished):
		ctx.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": ErrRoundAlreadyOverStr})
	case errors.Is(err, ErrInvalidState):
		// Neutral wording: the state machine raises this both for a round
		// still running and for a round already finished.
		ctx.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": ErrWrongRoundStateStr})
	case errors.Is(err, ErrInvalidSettings), errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidTier):
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidSettingsStr})
	case errors.Is(err, ErrRaceLost):
		ctx.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": ErrStoreContentionStr})
	case errors.Is(err, context.DeadlineExceeded):
		ctx.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": ErrServerTimeoutGameStr})
	case errors.Is(err, context.Canceled):
		ctx.AbortWithStatus(499)
	default:
		slog.Error("game handler: unexpected error",
			"error", err.Error(),
			"ip", ctx.ClientIP(),
			"path", ctx.FullPath(),
		)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": ErrUnknownGameErrStr})
	}
}

func (h *GameHandler) CreateRoomHandler(ctx *gin.Context) {
	id := ctx.GetString("id")
	if id == "" {
		slog.Error("Unexpected error, id not found. What is the middleware doing?",
			"ip", ctx.ClientIP(),
			"user_agent", ctx.Request.UserAgent(),
		)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": ErrUnknownGameErrStr})
		return
	}

	var settings domain.RoomSettings
	if err := ctx.ShouldBindJSON(&settings); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	room, err := h.rooms.CreateRoom(ctx.Request.Context(), id, settings)
	if err != nil {
		abortGameError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, room)
}

func (h *GameHandler) GetRoomHandler(ctx *gin.Context) {
	room, err := h.rooms.GetRoom(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, room)
}

func (h *GameHandler) DeleteRoomHandler(ctx *gin.Context) {
	if err := h.rooms.DeleteRoom(ctx.Request.Context(), ctx.Param("code")); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) JoinRoomHandler(ctx *gin.Context) {
	var body struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	key, err := h.rooms.JoinRoom(ctx.Request.Context(), ctx.Param("code"), body.Email, body.Name)
	if err != nil {
		abortGameError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"userId": key})
}

func (h *GameHandler) LeaveRoomHandler(ctx *gin.Context) {
	var body struct {
		UserId string `json:"userId"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	if err := h.rooms.LeaveRoom(ctx.Request.Context(), ctx.Param("code"), body.UserId); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) RemoveParticipantHandler(ctx *gin.Context) {
	if err := h.rooms.RemoveParticipant(ctx.Request.Context(), ctx.Param("code"), ctx.Param("key")); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) StartRoundHandler(ctx *gin.Context) {
	var body struct {
		Question  string `json:"question"`
		MaxPoints int    `json:"maxPoints"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	round, err := h.rooms.StartRound(ctx.Request.Context(), ctx.Param("code"), body.Question, body.MaxPoints)
	if err != nil {
		abortGameError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, round)
}

func (h *GameHandler) SubmitBidHandler(ctx *gin.Context) {
	code := ctx.Param("code")

	var body struct {
		UserId string `json:"userId"`
		Value  int    `json:"value"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	if !h.limiter(code + "/" + body.UserId).Allow() {
		ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": ErrTooManyRequestsStr})
		return
	}

	bid, err := h.rooms.SubmitBid(ctx.Request.Context(), code, body.UserId, body.Value)
	if err != nil {
		abortGameError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, bid)
}

func (h *GameHandler) FinishRoundHandler(ctx *gin.Context) {
	round, err := h.rooms.FinishRound(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, round)
}

func (h *GameHandler) ResetRoundHandler(ctx *gin.Context) {
	if err := h.rooms.ResetRound(ctx.Request.Context(), ctx.Param("code")); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) EligibilityHandler(ctx *gin.Context) {
	tier, err := strconv.Atoi(ctx.Query("value"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	check, err := h.rooms.IsEligible(ctx.Request.Context(), ctx.Param("code"), ctx.Query("userId"), tier)
	if err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, check)
}

func (h *GameHandler) RequiredCostHandler(ctx *gin.Context) {
	tier, err := strconv.Atoi(ctx.Query("value"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	cost, err := h.rooms.RequiredCost(ctx.Request.Context(), ctx.Param("code"), tier)
	if err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"requiredCost": cost})
}

func (h *GameHandler) LeaderboardHandler(ctx *gin.Context) {
	board, err := h.rooms.Leaderboard(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, board)
}

func (h *GameHandler) RoundHistoryHandler(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))

	rounds, err := h.history.ListArchivedRounds(ctx.Request.Context(), ctx.Param("code"), limit)
	if err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, rounds)
}

// ---- quick session ----

func (h *GameHandler) GetSessionHandler(ctx *gin.Context) {
	session, err := h.session.Session(ctx.Request.Context())
	if err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, session)
}

func (h *GameHandler) SessionPlayersHandler(ctx *gin.Context) {
	players, err := h.session.Players(ctx.Request.Context())
	if err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, players)
}

func (h *GameHandler) AddSessionPlayerHandler(ctx *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	if err := h.session.AddPlayer(ctx.Request.Context(), body.Name); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusCreated)
}

func (h *GameHandler) DeleteSessionPlayerHandler(ctx *gin.Context) {
	if err := h.session.DeletePlayer(ctx.Request.Context(), ctx.Param("id")); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) StartSessionHandler(ctx *gin.Context) {
	var body struct {
		Question   string `json:"question"`
		DurationMs int64  `json:"durationMs"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	session, err := h.session.StartSession(ctx.Request.Context(), body.Question, time.Duration(body.DurationMs)*time.Millisecond)
	if err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, session)
}

func (h *GameHandler) StopSessionHandler(ctx *gin.Context) {
	if err := h.session.StopSession(ctx.Request.Context()); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusOK)
}

func (h *GameHandler) PressHandler(ctx *gin.Context) {
	var body struct {
		PlayerId string `json:"playerId"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	if !h.limiter("session/" + body.PlayerId).Allow() {
		ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": ErrTooManyRequestsStr})
		return
	}

	if err := h.session.Press(ctx.Request.Context(), body.PlayerId); err != nil {
		if errors.Is(err, ErrInvalidState) {
			ctx.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": ErrSessionNotActiveStr})
			return
		}
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusOK)
}

func (h *GameHandler) SetSessionMaxPointsHandler(ctx *gin.Context) {
	var body struct {
		MaxPoints int `json:"maxPoints"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	if err := h.session.SetMaxPoints(ctx.Request.Context(), body.MaxPoints); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusOK)
}

func (h *GameHandler) DeleteVictoryHandler(ctx *gin.Context) {
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestStr})
		return
	}

	if err := h.session.DeleteVictory(ctx.Request.Context(), ctx.Param("id"), index); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *GameHandler) ResetPlayerPointsHandler(ctx *gin.Context) {
	if err := h.session.ResetPlayerPoints(ctx.Request.Context(), ctx.Param("id")); err != nil {
		abortGameError(ctx, err)
		return
	}
	ctx.Status(http.StatusOK)
}
