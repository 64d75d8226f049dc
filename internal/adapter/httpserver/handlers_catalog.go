package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
	apperrors "github.com/tajhlande/listen-to-wiki-changes/internal/platform/errors"
)

type wikisResponse struct {
	Wikis map[string]domain.WikiMetadata `json:"wikis"`
}

func (s *Server) handleWikis(c echo.Context) error {
	return writeJSON(c, wikisResponse{Wikis: s.catalog.Wikis()})
}

func (s *Server) handleWikiCodes(c echo.Context) error {
	return writeJSON(c, s.catalog.WikiCodes())
}

func (s *Server) handleWiki(c echo.Context) error {
	code := c.Param("code")
	meta, ok := s.catalog.Metadata(code)
	if !ok {
		return apperrors.NotFoundError("Wiki not found").WithField("code", code)
	}
	return writeJSON(c, meta)
}

func (s *Server) handleTypes(c echo.Context) error {
	return writeJSON(c, s.catalog.Types())
}

func (s *Server) handleLanguages(c echo.Context) error {
	return writeJSON(c, s.catalog.Languages())
}

func writeJSON(c echo.Context, v any) error {
	if err := c.JSON(http.StatusOK, v); err != nil {
		return fmt.Errorf("failed to write %s response: %w", c.Path(), err)
	}
	return nil
}
