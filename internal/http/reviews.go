package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/review"
)

func (s *Server) handlePendingReviews(c echo.Context) error {
	pending := s.reviews.Pending()
	return c.JSON(http.StatusOK, PendingReviewsResponse{Signals: pending, Count: len(pending)})
}

// handleGetReview returns a signal and its result, if one arrived.
func (s *Server) handleGetReview(c echo.Context) error {
	id := c.Param("signal_id")
	sig, ok := s.reviews.Signal(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown signal")
	}
	resp := ReviewStatusResponse{Signal: sig}
	if r, ok := s.reviews.Lookup(id); ok {
		resp.Result = r
		resp.Answered = true
	}
	return c.JSON(http.StatusOK, resp)
}

// handleSubmitReview delivers a reviewer result for a pending signal. The
// body is kept verbatim so the loop sees exactly what the reviewer sent.
func (s *Server) handleSubmitReview(c echo.Context) error {
	id := c.Param("signal_id")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading request body")
	}

	result, err := review.ParseResult(body)
	if err != nil {
		s.logger.Warn("invalid review result", zap.String("signal_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid review result")
	}
	if err := s.reviews.Submit(c.Request().Context(), id, result); err != nil {
		if errors.Is(err, review.ErrUnknownSignal) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown signal")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "delivering review result")
	}

	s.logger.Info("review result received",
		zap.String("signal_id", id),
		zap.Int("issues", len(result.IssuesFound)))
	return c.JSON(http.StatusAccepted, SubmitReviewResponse{SignalID: id, Accepted: true, IssuesFound: len(result.IssuesFound)})
}
