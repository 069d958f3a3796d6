package inspect

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/mlforge/bertbuild/internal/version"
)

// Register mounts the diagnostics routes on an echo instance.
func (s *Service) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/tensors", s.handleListTensors)
	e.GET("/v1/tensors/:name", s.handleGetTensor)
	e.GET("/v1/sizes", s.handleSizes)
}

func (s *Service) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Service) handleListTensors(c *echo.Context) error {
	reqID := uuid.NewString()
	infos, err := s.Tensors()
	if err != nil {
		s.log.Error("tensor listing failed", "request_id", reqID, "error", err)
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"request_id": reqID,
		"count":      len(infos),
		"tensors":    infos,
	})
}

func (s *Service) handleGetTensor(c *echo.Context) error {
	name := c.Param("name")
	info, err := s.Tensor(name)
	if err != nil {
		return writeError(c, http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Service) handleSizes(c *echo.Context) error {
	sizes := s.Sizes()
	if sizes == nil {
		return writeError(c, http.StatusNotFound, "no weight map loaded; pass an ensemble config")
	}
	return c.JSON(http.StatusOK, sizes)
}

func writeError(c *echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]any{
		"error": map[string]string{"message": msg},
	})
}
