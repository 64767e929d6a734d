package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/recapbook/api/internal/document"
	"github.com/recapbook/api/internal/middleware"
	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/service"
	"github.com/recapbook/api/internal/store"
	"github.com/recapbook/api/pkg/response"
)

type RunHandler struct {
	service   *service.BuildService
	validator *validator.Validate
}

func NewRunHandler(svc *service.BuildService, v *validator.Validate) *RunHandler {
	return &RunHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/runs
func (h *RunHandler) Create(c *fiber.Ctx) error {
	var req model.CreateRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	req.OwnerID = middleware.GetUserID(c)

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	run, err := h.service.CreateRun(c.UserContext(), &req)
	if err != nil {
		return h.serviceError(c, err)
	}
	return response.Created(c, run)
}

// Build handles POST /api/runs/:runId/build
func (h *RunHandler) Build(c *fiber.Ctx) error {
	var req model.StartBuildRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	req.RunID = c.Params("runId")
	req.OwnerID = middleware.GetUserID(c)

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartBuild(c.UserContext(), &req)
	if err != nil {
		return h.serviceError(c, err)
	}
	return response.Accepted(c, result)
}

// Status handles GET /api/runs/:runId/status
func (h *RunHandler) Status(c *fiber.Ctx) error {
	runID := c.Params("runId")
	if runID == "" {
		return response.ValidationError(c, "Run ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), runID)
	if err != nil {
		return h.serviceError(c, err)
	}
	return response.OK(c, result)
}

// Document handles GET /api/runs/:runId/document?format=
func (h *RunHandler) Document(c *fiber.Ctx) error {
	runID := c.Params("runId")
	if runID == "" {
		return response.ValidationError(c, "Run ID is required", nil)
	}
	format := model.Format(c.Query("format"))
	if format != "" && !format.Valid() {
		return response.ValidationError(c, "Unsupported format", fiber.Map{"format": "oneof=json markdown html"})
	}

	doc, err := h.service.GetDocument(c.UserContext(), runID, format)
	if err != nil {
		return h.serviceError(c, err)
	}
	if format == "" {
		format = doc.Format
	}

	body, contentType, err := document.Render(doc, format)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Raw(c, contentType, body)
}

func (h *RunHandler) serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		return response.NotFound(c, "Run not found")
	case errors.Is(err, service.ErrSourceNotFound):
		return response.NotFound(c, "Source has not been collected yet")
	case errors.Is(err, service.ErrDocumentNotReady):
		return response.NotReady(c, "Document is not ready yet")
	case errors.Is(err, store.ErrInvalidID):
		return response.ValidationError(c, err.Error(), nil)
	}
	return response.ServiceError(c, err.Error())
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
