package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/great12/internal/auth"
	"github.com/zulandar/great12/internal/mapper"
	"github.com/zulandar/great12/internal/stats"
	"github.com/zulandar/great12/internal/tracker"
)

// registerRoutes sets up the store and auth routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	t := opts.Tracker

	api := router.Group("/api")
	api.GET("/state", handleState(t))
	api.GET("/dashboard", handleDashboard(t, opts.Now))
	api.GET("/history", handleHistory(t))
	api.GET("/events", handleEvents(t, opts.Heartbeat))
	api.POST("/refresh", handleRefresh(t))

	api.POST("/cycles", handleStartCycle(t, opts.Now))
	api.POST("/cycles/finish", handleAccepted(t, func(c *gin.Context) error { return t.FinishCurrentCycle() }))

	api.PATCH("/goals/:id", handleUpdateGoal(t))
	api.DELETE("/goals/:id", handleAccepted(t, func(c *gin.Context) error { return t.DeleteGoal(c.Param("id")) }))

	weeks := api.Group("/weeks/:week")
	weeks.POST("/actions", handleAddAction(t))
	weeks.PATCH("/actions/:id", handleUpdateAction(t))
	weeks.POST("/actions/:id/toggle", handleWeek(t, func(c *gin.Context, week int) error {
		return t.ToggleAction(week, c.Param("id"))
	}))
	weeks.DELETE("/actions/:id", handleWeek(t, func(c *gin.Context, week int) error {
		return t.DeleteAction(week, c.Param("id"))
	}))
	weeks.PUT("/review", handleSaveReview(t))
	weeks.POST("/feedback", handleWeek(t, func(c *gin.Context, week int) error {
		return t.RequestFeedback(week)
	}))

	api.PUT("/profile", handleUpdateProfile(t))

	authGroup := router.Group("/auth")
	authGroup.POST("/logout", handleLogout(t))
	if opts.Login != nil {
		authGroup.GET("/login", handleLogin(opts.Login))
		authGroup.GET("/callback", handleCallback(opts.Login))
	}
}

// statusFor maps store errors to HTTP statuses.
func statusFor(err error) int {
	var (
		werr *tracker.WriteError
		aerr *tracker.AuthError
	)
	switch {
	case errors.Is(err, tracker.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, tracker.ErrNoActiveCycle):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrWeekOutOfRange),
		errors.Is(err, tracker.ErrEmptyTitle),
		errors.Is(err, tracker.ErrGoalCount),
		errors.Is(err, auth.ErrUnknownState):
		return http.StatusBadRequest
	case errors.Is(err, tracker.ErrActionNotFound), errors.Is(err, tracker.ErrGoalNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrNoReviews):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tracker.ErrNoGenerator), errors.Is(err, tracker.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &werr), errors.As(err, &aerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func fail(c *gin.Context, err error) {
	abort(c, statusFor(err), err)
}

// weekParam parses the :week path segment. Range checks are left to the store.
func weekParam(c *gin.Context) (int, bool) {
	week, err := strconv.Atoi(c.Param("week"))
	if err != nil {
		abort(c, http.StatusBadRequest, errors.New("api: week must be a number"))
		return 0, false
	}
	return week, true
}

// accepted reports an optimistic change: the body is the local state, the
// remote write may still be in flight.
func accepted(c *gin.Context, t Tracker) {
	c.JSON(http.StatusAccepted, t.Snapshot())
}

func handleState(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, t.Snapshot())
	}
}

func handleDashboard(t Tracker, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := t.Snapshot()
		c.JSON(http.StatusOK, stats.Summarize(snap.State, now()))
	}
}

func handleHistory(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		history, err := t.FetchHistory(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cycles": history})
	}
}

func handleRefresh(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := t.Refresh(c.Request.Context()); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, t.Snapshot())
	}
}

func handleAccepted(t Tracker, op func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := op(c); err != nil {
			fail(c, err)
			return
		}
		accepted(c, t)
	}
}

func handleWeek(t Tracker, op func(c *gin.Context, week int) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		week, ok := weekParam(c)
		if !ok {
			return
		}
		if err := op(c, week); err != nil {
			fail(c, err)
			return
		}
		accepted(c, t)
	}
}

type startCycleRequest struct {
	Goals     []tracker.GoalInput `json:"goals" binding:"required"`
	StartDate string              `json:"startDate"`
}

func handleStartCycle(t Tracker, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startCycleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		start := now()
		if req.StartDate != "" {
			parsed, err := mapper.ParseStartDate(req.StartDate)
			if err != nil {
				abort(c, http.StatusBadRequest, err)
				return
			}
			start = parsed
		}
		if err := t.StartNewCycle(c.Request.Context(), req.Goals, start); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, t.Snapshot())
	}
}

type goalRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

func handleUpdateGoal(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req goalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		if err := t.UpdateGoal(c.Param("id"), req.Title, req.Description); err != nil {
			fail(c, err)
			return
		}
		accepted(c, t)
	}
}

type actionRequest struct {
	GoalID string `json:"goalId"`
	Title  string `json:"title" binding:"required"`
}

func handleAddAction(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		week, ok := weekParam(c)
		if !ok {
			return
		}
		var req actionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		if err := t.AddAction(week, req.GoalID, req.Title); err != nil {
			fail(c, err)
			return
		}
		accepted(c, t)
	}
}

func handleUpdateAction(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		week, ok := weekParam(c)
		if !ok {
			return
		}
		var req actionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		if err := t.UpdateAction(week, c.Param("id"), req.Title); err != nil {
			fail(c, err)
			return
		}
		accepted(c, t)
	}
}

type reviewRequest struct {
	Entries []string `json:"entries"`
}

func handleSaveReview(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		week, ok := weekParam(c)
		if !ok {
			return
		}
		var req reviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		if err := t.SaveReview(week, req.Entries); err != nil {
			fail(c, err)
			return
		}
		accepted(c, t)
	}
}

type profileRequest struct {
	Nickname string `json:"nickname"`
}

func handleUpdateProfile(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req profileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		if err := t.UpdateProfile(req.Nickname); err != nil {
			fail(c, err)
			return
		}
		accepted(c, t)
	}
}

func handleLogin(l Login) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := l.NewState()
		if err != nil {
			abort(c, http.StatusInternalServerError, err)
			return
		}
		c.Redirect(http.StatusFound, l.SignInURL(state))
	}
}

func handleCallback(l Login) gin.HandlerFunc {
	return func(c *gin.Context) {
		if msg := c.Query("error"); msg != "" {
			abort(c, http.StatusUnauthorized, errors.New("api: provider denied sign-in: "+msg))
			return
		}
		code, state := c.Query("code"), c.Query("state")
		if code == "" || state == "" {
			abort(c, http.StatusBadRequest, errors.New("api: code and state are required"))
			return
		}
		sess, err := l.CompleteSignIn(c.Request.Context(), code, state)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, auth.ErrUnknownState) {
				status = http.StatusBadRequest
			}
			abort(c, status, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": sess.UserID, "email": sess.Email})
	}
}

func handleLogout(t Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := t.SignOut(c.Request.Context()); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
