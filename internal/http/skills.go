package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

// handleSearchSkills serves GET /api/v1/skills.
//
// Query parameters: q (free text and comma separated file paths are both
// reduced to trigger terms), domain, min_quality, promoted_only, limit.
func (s *Server) handleSearchSkills(c echo.Context) error {
	q := skills.SearchQuery{Domain: c.QueryParam("domain")}

	var files []string
	if f := c.QueryParam("files"); f != "" {
		files = strings.Split(f, ",")
	}
	q.Terms = skills.Terms(c.QueryParam("q"), files)

	if v := c.QueryParam("min_quality"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "min_quality must be a number between 0 and 100")
		}
		q.MinQuality = f
	}
	if v := c.QueryParam("promoted_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "promoted_only must be a boolean")
		}
		q.PromotedOnly = b
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		q.Limit = n
	}

	found, err := s.store.SearchSkills(c.Request().Context(), q)
	if err != nil {
		return s.storeError(c, "search skills", err)
	}
	if found == nil {
		found = []*skills.LearnedSkill{}
	}
	return c.JSON(http.StatusOK, SkillListResponse{Skills: found, Count: len(found)})
}

func (s *Server) handleGetSkill(c echo.Context) error {
	sk, err := s.store.GetSkill(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.storeError(c, "get skill", err)
	}
	return c.JSON(http.StatusOK, sk)
}

func (s *Server) handleEffectiveness(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.store.GetSkill(ctx, id); err != nil {
		return s.storeError(c, "get skill", err)
	}
	eff, err := s.store.Effectiveness(ctx, id)
	if err != nil {
		return s.storeError(c, "load effectiveness", err)
	}
	return c.JSON(http.StatusOK, eff)
}

// handlePendingSkills lists unpromoted skills close to the promotion bar.
func (s *Server) handlePendingSkills(c echo.Context) error {
	pending, err := s.gate.ListPending(c.Request().Context())
	if err != nil {
		return s.storeError(c, "list pending skills", err)
	}
	if pending == nil {
		pending = []*skills.LearnedSkill{}
	}
	return c.JSON(http.StatusOK, SkillListResponse{Skills: pending, Count: len(pending)})
}

// handlePromote runs the promotion gate for one skill. A skill that fails
// the criteria yields 409 with the decision attached.
func (s *Server) handlePromote(c echo.Context) error {
	var req PromoteRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			s.logger.Warn("invalid promote request", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	ctx := c.Request().Context()
	sk, err := s.store.GetSkill(ctx, c.Param("id"))
	if err != nil {
		return s.storeError(c, "get skill", err)
	}
	if sk.Promoted {
		return c.JSON(http.StatusOK, PromoteResponse{SkillID: sk.SkillID, Promoted: true, Reason: sk.PromotionReason})
	}

	decision, err := s.gate.Evaluate(ctx, sk)
	if err != nil {
		return s.storeError(c, "evaluate skill", err)
	}
	if !decision.ShouldPromote {
		return c.JSON(http.StatusConflict, PromoteResponse{SkillID: sk.SkillID, Reason: decision.Reason, Decision: &decision})
	}

	reason := req.Reason
	if reason == "" {
		reason = decision.Reason
	}
	path, err := s.gate.Promote(ctx, sk, reason)
	if err != nil {
		return s.storeError(c, "promote skill", err)
	}
	return c.JSON(http.StatusOK, PromoteResponse{
		SkillID:  sk.SkillID,
		Promoted: true,
		Reason:   sk.PromotionReason,
		Path:     path,
		Decision: &decision,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return s.storeError(c, "load stats", err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleFeedback(c echo.Context) error {
	sid := c.Param("session_id")
	fb, err := s.store.SessionFeedback(c.Request().Context(), sid)
	if err != nil {
		return s.storeError(c, "load feedback", err)
	}
	if fb == nil {
		fb = []skills.IterationFeedback{}
	}
	return c.JSON(http.StatusOK, FeedbackResponse{SessionID: sid, Records: fb})
}
