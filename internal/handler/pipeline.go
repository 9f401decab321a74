package handler

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/cogniscribe/api/internal/apperr"
	"github.com/cogniscribe/api/internal/mediafile"
	"github.com/cogniscribe/api/internal/middleware"
	"github.com/cogniscribe/api/internal/model"
	"github.com/cogniscribe/api/internal/service"
	"github.com/cogniscribe/api/internal/storage"
	"github.com/cogniscribe/api/pkg/response"
)

const defaultRatio = 0.15

// signatureHeadSize covers every magic-byte pattern we check,
// including the ftyp box at offset 4.
const signatureHeadSize = 16

type PipelineHandler struct {
	service   *service.PipelineService
	artifacts storage.ArtifactStore
	validator *validator.Validate
}

func NewPipelineHandler(svc *service.PipelineService, artifacts storage.ArtifactStore, v *validator.Validate) *PipelineHandler {
	return &PipelineHandler{
		service:   svc,
		artifacts: artifacts,
		validator: v,
	}
}

// Submit handles POST /api/pipeline
func (h *PipelineHandler) Submit(c *fiber.Ctx) error {
	req, err := parseSubmitForm(c)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}
	if err := h.validator.Struct(req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	filename := mediafile.SanitizeFilename(file.Filename)
	ext, err := mediafile.ValidateExtension(filename)
	if err != nil {
		return mapError(c, err)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open uploaded file")
	}
	defer f.Close()

	// The magic-byte check consumes the head of the stream; stitch it
	// back on before handing the body to storage.
	head := make([]byte, signatureHeadSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return response.ServiceError(c, "Failed to read uploaded file")
	}
	if err := mediafile.VerifySignature(head[:n], ext); err != nil {
		return mapError(c, err)
	}

	art, err := h.artifacts.Save(filename, io.MultiReader(bytes.NewReader(head[:n]), f))
	if err != nil {
		return mapError(c, err)
	}

	outcome, err := h.service.Submit(c.Context(), middleware.GetUserID(c), art, req)
	if err != nil {
		return mapError(c, err)
	}
	if outcome.Completed != nil {
		return response.OK(c, outcome.Completed)
	}
	return response.Accepted(c, outcome.Accepted)
}

func parseSubmitForm(c *fiber.Ctx) (*model.SubmitRequest, error) {
	req := &model.SubmitRequest{
		Ratio:   defaultRatio,
		Subject: c.FormValue("subject"),
	}

	if raw := c.FormValue("ratio"); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New("ratio must be a number")
		}
		req.Ratio = ratio
	}

	if raw := c.FormValue("async"); raw != "" {
		async, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("async must be a boolean")
		}
		req.Async = &async
	}

	return req, nil
}

// List handles GET /api/pipeline
func (h *PipelineHandler) List(c *fiber.Ctx) error {
	result, err := h.service.List(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return mapError(c, err)
	}

	return response.OK(c, result)
}

// Status handles GET /api/pipeline/:jobId
func (h *PipelineHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Status(c.Context(), jobID)
	if err != nil {
		return mapError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles DELETE /api/pipeline/:jobId
func (h *PipelineHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID)
	if err != nil {
		return mapError(c, err)
	}

	return response.OK(c, result)
}

// mapError translates service errors to the response envelope
func mapError(c *fiber.Ctx, err error) error {
	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		return response.ValidationError(c, validation.Message, map[string]string{
			validation.Field: validation.Message,
		})
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return response.NotFound(c, "Job not found")
	}
	if errors.Is(err, apperr.ErrAlreadyTerminal) {
		return response.AlreadyTerminal(c, "Job already reached a terminal state")
	}
	var storageErr *apperr.StorageError
	if errors.As(err, &storageErr) {
		return response.StorageError(c, "Job storage is unavailable")
	}
	return response.ServiceError(c, err.Error())
}

// formatValidationErrors formats validator errors for response
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
