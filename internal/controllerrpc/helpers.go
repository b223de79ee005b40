package controllerrpc

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/voxharbor/engine/internal/apperrors"
)

// respondError translates a typed apperrors sentinel into an HTTP status
// code; anything else becomes a 500 (§7).
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, apperrors.ErrBadRequest):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, apperrors.ErrAlreadyJoined), errors.Is(err, apperrors.ErrMaxChatsExceeded):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func parseInt64Query(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.BadRequest("malformed " + name)
	}
	return v, nil
}

func parseIntQueryDefault(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.BadRequest("malformed " + name)
	}
	return v, nil
}
