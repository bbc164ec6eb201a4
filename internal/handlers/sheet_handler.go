package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/services"
	"github.com/scriptgrade/evaluation-service/internal/utils"
)

// maxSheetUploadBytes bounds the multipart upload size (20 MiB).
const maxSheetUploadBytes = 20 << 20

type SheetHandler struct {
	BaseHandler
	sheetService services.SheetService
}

func NewSheetHandler(sheetService services.SheetService, logger utils.Logger) *SheetHandler {
	return &SheetHandler{
		BaseHandler:  NewBaseHandler(logger),
		sheetService: sheetService,
	}
}

// UploadSheet accepts one or more multipart PDF uploads and registers each
// for grading. Batches come in under the repeated "files" field; a single
// "file" field still works for older clients.
func (h *SheetHandler) UploadSheet(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid multipart payload",
			Details: err.Error(),
		})
		return
	}

	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		fileHeaders = form.File["file"]
	}
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "multipart field 'files' is required",
		})
		return
	}

	sheets := make([]*services.SheetResponse, 0, len(fileHeaders))
	for _, fileHeader := range fileHeaders {
		content, err := h.readSheetFile(fileHeader)
		if err != nil {
			h.uploadReadError(c, fileHeader.Filename, err)
			return
		}

		sheet, err := h.sheetService.Upload(c.Request.Context(), examID, fileHeader.Filename, content, actor)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		sheets = append(sheets, sheet)
	}

	c.JSON(http.StatusCreated, services.SheetListResponse{
		Sheets: sheets,
		Total:  int64(len(sheets)),
	})
}

var errSheetTooLarge = errors.New("sheet upload exceeds the size limit")

func (h *SheetHandler) readSheetFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	if fileHeader.Size > maxSheetUploadBytes {
		return nil, errSheetTooLarge
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxSheetUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxSheetUploadBytes {
		return nil, errSheetTooLarge
	}
	return content, nil
}

func (h *SheetHandler) uploadReadError(c *gin.Context, fileName string, err error) {
	if errors.Is(err, errSheetTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "payload_too_large",
			Message: err.Error(),
			Details: fileName,
		})
		return
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "bad_request",
		Message: "failed to read uploaded file",
		Details: err.Error(),
	})
}

// RegisterSheet records a sheet already present in object storage
func (h *SheetHandler) RegisterSheet(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	var req services.RegisterSheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid request payload",
			Details: err.Error(),
		})
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	sheet, err := h.sheetService.Register(c.Request.Context(), examID, &req, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sheet)
}

// GetSheet retrieves one sheet with a short-lived download URL
func (h *SheetHandler) GetSheet(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	sheet, err := h.sheetService.GetByID(c.Request.Context(), id, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sheet)
}

// ListSheets lists the sheets of an exam
func (h *SheetHandler) ListSheets(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	filters := repositories.SheetFilters{}
	if processed := c.Query("processed"); processed != "" {
		if v, err := strconv.ParseBool(processed); err == nil {
			filters.Processed = &v
		}
	}
	if studentID := c.Query("student_id"); studentID != "" {
		filters.StudentID = &studentID
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		filters.Offset = offset
	}

	sheets, err := h.sheetService.List(c.Request.Context(), examID, filters, actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sheets)
}

// DeleteSheet removes an unprocessed sheet
func (h *SheetHandler) DeleteSheet(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	actor, ok := h.actorOrAbort(c)
	if !ok {
		return
	}

	if err := h.sheetService.Delete(c.Request.Context(), id, actor); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "sheet deleted"})
}
