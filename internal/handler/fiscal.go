package handler

import (
	"errors"
	"net/http"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/apierror"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/dto"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/middleware"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/repository"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FiscalHandler struct{ svc service.FiscalService }

func NewFiscalHandler(svc service.FiscalService) *FiscalHandler { return &FiscalHandler{svc: svc} }

// Create godoc
// @Summary      Record a fiscal transaction
// @Description  Records a sale, refund, or payment-method change for asynchronous transmission to WEB-SRM. The point-of-sale flow never blocks on transmission.
// @Tags         fiscal
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.CreateFiscalTransactionRequest true "Fiscal event"
// @Success      201  {object} dto.FiscalTransactionResponse
// @Failure      400  {object} apierror.APIError
// @Failure      409  {object} apierror.APIError
// @Router       /v1/fiscal/transactions [post]
func (h *FiscalHandler) Create(c *gin.Context) {
	var req dto.CreateFiscalTransactionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CreateTransaction(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateActive):
			c.JSON(http.StatusConflict, apierror.New(err.Error()))
		case errors.Is(err, service.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
		default:
			c.JSON(http.StatusInternalServerError, apierror.New("Transaction could not be recorded"))
		}
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ProcessQueue godoc
// @Summary      Process the fiscal queue
// @Description  Drains pending fiscal transactions for the caller's branch, oldest first, bounded by the per-run budget.
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object} dto.DrainReportResponse
// @Failure      400  {object} apierror.APIError
// @Router       /v1/fiscal/queue/process [post]
func (h *FiscalHandler) ProcessQueue(c *gin.Context) {
	claims := middleware.GetClaims(c)
	branchID, err := uuid.Parse(claims.BranchID)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Token carries no valid branch"))
		return
	}
	resp, err := h.svc.ProcessQueue(c.Request.Context(), branchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierror.New("Queue processing failed"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Status godoc
// @Summary      Current fiscal status for an order
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Order UUID"
// @Success      200  {object} dto.FiscalTransactionResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/fiscal/transactions/{id}/status [get]
func (h *FiscalHandler) Status(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid order id"))
		return
	}
	resp, err := h.svc.Status(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, apierror.New("No fiscal transaction for this order"))
			return
		}
		c.JSON(http.StatusInternalServerError, apierror.New("Status lookup failed"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// History godoc
// @Summary      Full fiscal history for an order
// @Description  Every transaction record ever created for the order, in creation order — the order's complete fiscal story.
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Order UUID"
// @Success      200  {object} dto.FiscalHistoryResponse
// @Router       /v1/fiscal/transactions/{id}/history [get]
func (h *FiscalHandler) History(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid order id"))
		return
	}
	resp, err := h.svc.History(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierror.New("History lookup failed"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Resubmit godoc
// @Summary      Resubmit a terminally failed transaction
// @Description  Explicit, audited operator action: resets the retry budget and re-queues the record. Never happens automatically.
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Transaction UUID"
// @Success      200  {object} dto.FiscalTransactionResponse
// @Failure      404  {object} apierror.APIError
// @Failure      409  {object} apierror.APIError
// @Router       /v1/fiscal/transactions/{id}/resubmit [post]
func (h *FiscalHandler) Resubmit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid transaction id"))
		return
	}
	claims := middleware.GetClaims(c)
	resp, err := h.svc.Resubmit(c.Request.Context(), id, claims.Username)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, apierror.New("Transaction not found"))
		case errors.Is(err, service.ErrNotResubmittable):
			c.JSON(http.StatusConflict, apierror.New(err.Error()))
		default:
			c.JSON(http.StatusInternalServerError, apierror.New("Resubmit failed"))
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// QueueStats godoc
// @Summary      Queue statistics for the caller's branch
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object} dto.QueueStatsResponse
// @Router       /v1/fiscal/queue/stats [get]
func (h *FiscalHandler) QueueStats(c *gin.Context) {
	claims := middleware.GetClaims(c)
	branchID, err := uuid.Parse(claims.BranchID)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Token carries no valid branch"))
		return
	}
	resp, err := h.svc.QueueStats(c.Request.Context(), branchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierror.New("Stats lookup failed"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReceiptPDF godoc
// @Summary      Printable receipt with QR verification code
// @Description  Renders the completed transaction's persisted payload to a PDF. Read side only — never touches the queue.
// @Tags         fiscal
// @Produce      application/pdf
// @Security     BearerAuth
// @Param        id path string true "Transaction UUID"
// @Success      200
// @Failure      404  {object} apierror.APIError
// @Router       /v1/fiscal/receipts/{id}/pdf [get]
func (h *FiscalHandler) ReceiptPDF(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid transaction id"))
		return
	}
	pdf, err := h.svc.ReceiptPDF(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, apierror.New("Transaction not found"))
			return
		}
		c.JSON(http.StatusConflict, apierror.New(err.Error()))
		return
	}
	c.Data(http.StatusOK, "application/pdf", pdf)
}
