package hunt

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vreid/cluehunt/internal/pkg/blobstore"
	"github.com/vreid/cluehunt/internal/pkg/broker"
	"github.com/vreid/cluehunt/internal/pkg/encryption"
	"github.com/vreid/cluehunt/internal/pkg/ledger"
	"github.com/vreid/cluehunt/internal/pkg/threshold"
	"github.com/vreid/cluehunt/internal/pkg/verifier"
)

func (s *HuntService) Routes(e *echo.Echo) {
	apiGroup := e.Group("/api")

	huntsGroup := apiGroup.Group("/hunts")

	huntsGroup.POST("/encrypt", s.PostEncrypt)
	huntsGroup.POST("/verify/location", s.PostVerifyLocation)
	huntsGroup.POST("/verify/image", s.PostVerifyImage)
	huntsGroup.GET("/clues/:handle", s.GetClues)
	huntsGroup.GET("/:huntId/leaderboard", s.GetLeaderboard)
	huntsGroup.GET("/:huntId/teams/:teamId/timeline", s.GetTimeline)

	if len(s.Attesters) > 0 {
		huntsGroup.POST("/:huntId/attestations/solves", s.PostSolve)
		huntsGroup.POST("/:huntId/attestations/retries", s.PostRetry)
	}
}

// httpError maps domain errors onto status codes; anything unrecognized is
// logged and reported as an internal error.
func (s *HuntService) httpError(err error) error {
	switch {
	case errors.Is(err, verifier.ErrValidation),
		errors.Is(err, verifier.ErrUnknownAlgorithm),
		errors.Is(err, blobstore.ErrInvalidHandle),
		errors.Is(err, ledger.ErrInvalidAttestation),
		errors.Is(err, threshold.ErrInvalidConditions),
		errors.Is(err, threshold.ErrBadRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, threshold.ErrAccessDenied),
		errors.Is(err, threshold.ErrSessionInvalid):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, blobstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "blob not found")
	case errors.Is(err, encryption.ErrAuthentication),
		errors.Is(err, blobstore.ErrCorruptBlob):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "blob could not be decrypted")
	case errors.Is(err, broker.ErrNetworkUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, broker.ErrNetworkUnavailable.Error())
	default:
		s.Logger.Error().Err(err).Msg("request failed")

		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func huntID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("huntId"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid hunt id")
	}

	return id, nil
}

func (s *HuntService) PostEncrypt(c echo.Context) error {
	var req EncryptRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.EncryptAnswers(c.Request().Context(), req.Clues, req.Answers)
	if err != nil {
		return s.httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, result)
}

func (s *HuntService) PostVerifyLocation(c echo.Context) error {
	var req VerifyLocationRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	claim, ok := req.Coordinates()
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "lat and long are required")
	}

	verified, err := s.VerifyLocation(c.Request().Context(), req.AnswersHandle, string(req.ClueID), claim, req.Threshold)
	if err != nil {
		return s.httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, VerifyResponse{Verified: verified})
}

func (s *HuntService) PostVerifyImage(c echo.Context) error {
	var req VerifyImageRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	verified, err := s.VerifyImage(c.Request().Context(), req.AnswersHandle, string(req.ClueID), req.Embedding,
		req.Threshold)
	if err != nil {
		return s.httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, VerifyResponse{Verified: verified})
}

func (s *HuntService) GetClues(c echo.Context) error {
	clues, err := s.DecryptClues(c.Request().Context(), c.Param("handle"))
	if err != nil {
		return s.httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, clues)
}

func (s *HuntService) GetLeaderboard(c echo.Context) error {
	id, err := huntID(c)
	if err != nil {
		return err
	}

	entries, err := s.Leaderboard(c.Request().Context(), id)
	if err != nil {
		return s.httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, entries)
}

func (s *HuntService) GetTimeline(c echo.Context) error {
	id, err := huntID(c)
	if err != nil {
		return err
	}

	entries, err := s.Timeline(c.Request().Context(), id, c.Param("teamId"))
	if err != nil {
		return s.httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, entries)
}

// attester checks that the submission was signed by a configured attester.
func (s *HuntService) attester(session threshold.SessionSig) error {
	signer, err := session.Verify(s.clock(), threshold.AbilityAttest)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	if !slices.Contains(s.Attesters, signer) {
		s.Logger.Warn().Str("signer", signer.Hex()).Msg("rejected attestation from unknown signer")

		return echo.NewHTTPError(http.StatusForbidden, "signer is not an attester")
	}

	return nil
}

func (s *HuntService) PostSolve(c echo.Context) error {
	id, err := huntID(c)
	if err != nil {
		return err
	}

	var req SolveSubmission

	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.attester(req.Session)
	if err != nil {
		return err
	}

	solve := req.Attestation
	solve.HuntID = id
	solve.AttestTimestamp = s.clock().UnixMilli()
	solve.AttestationID = ""

	err = s.RecordSolve(c.Request().Context(), solve)
	if err != nil {
		return s.httpError(err)
	}

	return c.NoContent(http.StatusAccepted) //nolint:wrapcheck
}

func (s *HuntService) PostRetry(c echo.Context) error {
	id, err := huntID(c)
	if err != nil {
		return err
	}

	var req RetrySubmission

	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.attester(req.Session)
	if err != nil {
		return err
	}

	retry := req.Attestation
	retry.HuntID = id
	retry.AttestTimestamp = s.clock().UnixMilli()
	retry.AttestationID = ""

	err = s.RecordRetry(c.Request().Context(), retry)
	if err != nil {
		return s.httpError(err)
	}

	return c.NoContent(http.StatusAccepted) //nolint:wrapcheck
}
