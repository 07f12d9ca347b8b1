package summary

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ips/internal/ips/builder"
	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/platform/fhir"
)

const mimeFHIRJSON = "application/fhir+json; charset=UTF-8"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.POST("/Bundle/$summary", h.SummarizeBundle)
	fhirGroup.GET("/Patient/:id/$summary", h.SummarizePatient)
	fhirGroup.GET("/Patient/:id/$summary/latest", h.LatestSummary)
	fhirGroup.POST("/$narrative", h.Narrative)
	fhirGroup.POST("/Bundle/$markdown", h.Markdown)
}

// SummarizeBundle handles POST /fhir/Bundle/$summary.
func (h *Handler) SummarizeBundle(c echo.Context) error {
	bundle, err := readBundle(c)
	if err != nil {
		return err
	}
	opts, err := generateOptions(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.GenerateFromBundle(c.Request().Context(), bundle, opts)
	if err != nil {
		return toHTTPError(err)
	}
	return fhirJSON(c, http.StatusOK, doc)
}

// SummarizePatient handles GET /fhir/Patient/:id/$summary.
func (h *Handler) SummarizePatient(c echo.Context) error {
	opts, err := generateOptions(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.GenerateForPatient(c.Request().Context(), c.Param("id"), opts)
	if err != nil {
		return toHTTPError(err)
	}
	return fhirJSON(c, http.StatusOK, doc)
}

// LatestSummary handles GET /fhir/Patient/:id/$summary/latest and returns the
// most recently archived document without generating a new one.
func (h *Handler) LatestSummary(c echo.Context) error {
	doc, err := h.svc.LatestDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return fhirJSON(c, http.StatusOK, doc.Bundle)
}

// Narrative handles POST /fhir/$narrative?section=<kind>. The response is
// the Narrative element, or the bare div when text/html is accepted.
func (h *Handler) Narrative(c echo.Context) error {
	kind, err := section.ParseKind(c.QueryParam("section"))
	if err != nil {
		return toHTTPError(err)
	}
	bundle, err := readBundle(c)
	if err != nil {
		return err
	}
	tz, err := timezoneParam(c)
	if err != nil {
		return err
	}
	div, err := h.svc.Narrative(c.Request().Context(), kind, bundle, tz)
	if err != nil {
		return toHTTPError(err)
	}
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextHTML) {
		return c.HTML(http.StatusOK, div)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": fhir.NarrativeStatusGenerated,
		"div":    div,
	})
}

// Markdown handles POST /fhir/Bundle/$markdown.
func (h *Handler) Markdown(c echo.Context) error {
	bundle, err := readBundle(c)
	if err != nil {
		return err
	}
	md, err := h.svc.Markdown(bundle)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=UTF-8", []byte(md))
}

func readBundle(c echo.Context) (fhir.Resource, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return nil, httpErr
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome("failed to read request body"))
	}
	bundle, err := fhir.DecodeBundle(body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
	}
	return bundle, nil
}

func generateOptions(c echo.Context) (GenerateOptions, error) {
	var opts GenerateOptions
	tz, err := timezoneParam(c)
	if err != nil {
		return opts, err
	}
	opts.TZ = tz
	if v := c.QueryParam("summary"); v != "" {
		mode, err := strconv.ParseBool(v)
		if err != nil {
			return opts, echo.NewHTTPError(http.StatusBadRequest,
				fhir.InvalidOutcome("summary must be true or false"))
		}
		opts.SummaryMode = mode
	}
	return opts, nil
}

func timezoneParam(c echo.Context) (string, error) {
	tz := c.QueryParam("_tz")
	if tz == "" {
		return "", nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest,
			fhir.InvalidOutcome("unknown timezone: "+tz))
	}
	return tz, nil
}

func fhirJSON(c echo.Context, status int, v interface{}) error {
	c.Response().Header().Set(echo.HeaderContentType, mimeFHIRJSON)
	return c.JSON(status, v)
}

// toHTTPError maps service errors to statuses with an OperationOutcome body.
func toHTTPError(err error) error {
	var missing *builder.MissingSectionsError
	switch {
	case errors.Is(err, fhir.ErrInvalidBundle),
		errors.Is(err, section.ErrUnknownKind),
		errors.Is(err, builder.ErrInvalidPatient),
		errors.Is(err, ErrPatientIDRequired):
		return echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
	case errors.As(err, &missing):
		ob := fhir.NewOutcomeBuilder()
		for _, kind := range missing.Kinds {
			ob.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeRequired,
				"Missing mandatory IPS section: "+kind.ID(), "Composition.section")
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ob.Build())
	case errors.Is(err, builder.ErrNoPatient),
		errors.Is(err, ErrNoSectionRecords):
		return echo.NewHTTPError(http.StatusUnprocessableEntity,
			fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeBusinessRule, err.Error()))
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound,
			fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error()))
	case errors.Is(err, ErrSourceUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTransient, err.Error()))
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
}
