package server

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	errs "gbif-nl-search/internal/common/errors"
	"gbif-nl-search/internal/executor"
	"gbif-nl-search/internal/pipeline"
	"gbif-nl-search/internal/schema"
	"gbif-nl-search/internal/translator"
)

// A CSV export is capped at ten pages of results. The page bound holds even
// against an upstream that keeps answering without ever setting endOfRecords.
const (
	exportMaxPages   = 10
	exportMaxRecords = exportMaxPages * executor.PageSize
)

type searchRequest struct {
	SessionID       string `json:"sessionId"`
	Query           string `json:"query"`
	InstitutionCode string `json:"institutionCode"`
	CollectionCode  string `json:"collectionCode"`
}

type searchResponse struct {
	Interpreted *schema.CandidateParameters `json:"interpreted"`
	Params      *schema.ResolvedParameters  `json:"params"`
	Result      *executor.SearchResult      `json:"result"`
}

type pageRequest struct {
	Params *schema.ResolvedParameters `json:"params"`
	Offset int64                      `json:"offset"`
}

type exportRequest struct {
	Params *schema.ResolvedParameters `json:"params"`
}

// handleSearch runs the full pipeline for a new query and returns the first
// page of results along with the parameters the model extracted. Submitting
// a query cancels any search still running for the same session.
func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, errs.NewBadRequestError("malformed request body"))
	}
	if strings.TrimSpace(req.Query) == "" {
		return writeError(c, http.StatusBadRequest, errs.NewBadRequestError("query must not be empty"))
	}

	ctx, done := s.sessions.begin(c.Request().Context(), req.SessionID)
	defer done()

	interpreted, params, err := s.pipeline.Run(ctx, req.Query, pipeline.Overrides{
		InstitutionCode: req.InstitutionCode,
		CollectionCode:  req.CollectionCode,
	})
	if err != nil {
		return s.writePipelineError(c, err)
	}

	result, err := s.searcher.Search(ctx, params, 0)
	if err != nil {
		return s.writeSearchError(c, err)
	}

	return c.JSON(http.StatusOK, searchResponse{
		Interpreted: interpreted,
		Params:      params,
		Result:      result,
	})
}

// handlePage fetches a single page for an already resolved parameter set.
// Page turns never re-run translation or resolution.
func (s *Server) handlePage(c echo.Context) error {
	var req pageRequest
	if err := c.Bind(&req); err != nil || req.Params == nil {
		return writeError(c, http.StatusBadRequest, errs.NewBadRequestError("malformed request body"))
	}

	result, err := s.searcher.Search(c.Request().Context(), req.Params, req.Offset)
	if err != nil {
		return s.writeSearchError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// handleExport streams matching records as a CSV attachment, paging through
// results up to the export cap.
func (s *Server) handleExport(c echo.Context) error {
	var req exportRequest
	if err := c.Bind(&req); err != nil || req.Params == nil {
		return writeError(c, http.StatusBadRequest, errs.NewBadRequestError("malformed request body"))
	}

	ctx := c.Request().Context()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	resp.Header().Set(echo.HeaderContentDisposition, `attachment; filename="occurrences.csv"`)

	w := csv.NewWriter(resp)
	header := []string{"permalink", "catalogNumber", "scientificName", "eventDate", "recordedBy", "locality", "institutionCode", "imageUrl", "imageCount"}

	written := 0
	for page := 0; page < exportMaxPages; page++ {
		offset := int64(page) * executor.PageSize
		result, err := s.searcher.Search(ctx, req.Params, offset)
		if err != nil {
			// Nothing streamed yet: report the failure as JSON.
			if written == 0 && !resp.Committed {
				resp.Header().Del(echo.HeaderContentDisposition)
				return s.writeSearchError(c, err)
			}
			s.logger.Warn("export aborted mid-stream", map[string]interface{}{
				"offset": offset,
				"error":  err.Error(),
			})
			return nil
		}

		if page == 0 {
			if err := w.Write(header); err != nil {
				return err
			}
		}

		for _, rec := range result.Records {
			if err := w.Write([]string{
				rec.Permalink,
				rec.CatalogNumber,
				rec.ScientificName,
				rec.EventDate,
				rec.RecordedBy,
				rec.Locality,
				rec.InstitutionCode,
				rec.ImageURL,
				fmt.Sprintf("%d", rec.ImageCount),
			}); err != nil {
				return err
			}
			written++
			if written >= exportMaxRecords {
				w.Flush()
				return w.Error()
			}
		}

		if result.EndOfRecords {
			break
		}
		w.Flush()
	}

	w.Flush()
	return w.Error()
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// writePipelineError maps a translation failure onto the HTTP surface.
// Resolution problems never reach here; the pipeline absorbs them.
func (s *Server) writePipelineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return writeError(c, http.StatusConflict, errs.NewBadRequestError("superseded by a newer query in this session"))
	case errors.Is(err, translator.ErrTranslationTimeout):
		return writeError(c, http.StatusGatewayTimeout, errs.NewTranslationTimeoutError(err))
	default:
		return writeError(c, http.StatusUnprocessableEntity, errs.NewTranslationFailedError(err))
	}
}

func (s *Server) writeSearchError(c echo.Context, err error) error {
	var sErr *executor.SearchError
	if errors.As(err, &sErr) {
		status := http.StatusBadGateway
		if sErr.Status == http.StatusBadRequest {
			status = http.StatusBadRequest
		}
		return writeError(c, status, errs.NewSearchFailedError(sErr.Status, sErr.Message))
	}
	return writeError(c, http.StatusBadGateway, errs.NewSearchFailedError(0, err.Error()))
}

func writeError(c echo.Context, status int, stdErr *errs.StandardError) error {
	return c.JSON(status, map[string]interface{}{"error": stdErr})
}
