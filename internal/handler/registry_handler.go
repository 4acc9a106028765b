package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
	"github.com/prohmpiriya/ticket-registry/internal/dto"
	"github.com/prohmpiriya/ticket-registry/internal/service"
	"github.com/prohmpiriya/ticket-registry/pkg/middleware"
	"github.com/prohmpiriya/ticket-registry/pkg/response"
)

// RegistryHandler handles ticket registry HTTP requests
type RegistryHandler struct {
	registryService service.RegistryService
}

// NewRegistryHandler creates a new RegistryHandler
func NewRegistryHandler(registryService service.RegistryService) *RegistryHandler {
	return &RegistryHandler{
		registryService: registryService,
	}
}

// Issue handles POST /tickets - issues a ticket owned by the caller
func (h *RegistryHandler) Issue(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req dto.IssueTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if valid, msg := req.Validate(); !valid {
		response.BadRequest(c, msg)
		return
	}

	id, err := h.registryService.IssueTicket(c.Request.Context(), caller, req.EventName, req.ExpirationDate)
	if err != nil {
		handleRegistryError(c, err)
		return
	}

	response.Created(c, &dto.IssueTicketResponse{TicketID: id})
}

// Transfer handles POST /tickets/:id/transfer
func (h *RegistryHandler) Transfer(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}

	var req dto.TransferTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if valid, msg := req.Validate(); !valid {
		response.BadRequest(c, msg)
		return
	}

	to := domain.AccountID(req.To)
	if err := h.registryService.TransferTicket(c.Request.Context(), caller, id, to); err != nil {
		handleRegistryError(c, err)
		return
	}

	response.Success(c, &dto.TicketActionResponse{TicketID: id, Owner: to})
}

// List handles POST /tickets/:id/listing - lists or re-prices a ticket
func (h *RegistryHandler) List(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}

	var req dto.ListTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	if err := h.registryService.ListTicket(c.Request.Context(), caller, id, *req.Price); err != nil {
		handleRegistryError(c, err)
		return
	}

	response.Success(c, &dto.TicketActionResponse{TicketID: id, Owner: caller, Price: req.Price})
}

// Buy handles POST /tickets/:id/buy
func (h *RegistryHandler) Buy(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}

	var req dto.BuyTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	sale, err := h.registryService.BuyTicket(c.Request.Context(), caller, id, *req.Payment)
	if err != nil {
		handleRegistryError(c, err)
		return
	}

	response.Success(c, &dto.SaleResponse{
		TicketID:   sale.TicketID,
		Seller:     sale.Seller,
		Buyer:      sale.Buyer,
		Price:      sale.Price,
		PaymentRef: sale.PaymentRef,
	})
}

// Verify handles GET /tickets/:id/verify
func (h *RegistryHandler) Verify(c *gin.Context) {
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}

	valid, err := h.registryService.VerifyTicket(c.Request.Context(), id)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	response.Success(c, &dto.VerifyTicketResponse{TicketID: id, Valid: valid})
}

// Get handles GET /tickets/:id
func (h *RegistryHandler) Get(c *gin.Context) {
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}

	ticket, err := h.registryService.GetTicket(c.Request.Context(), id)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if ticket == nil {
		response.NotFound(c, "TICKET_NOT_FOUND", "Ticket not found")
		return
	}

	response.Success(c, &dto.TicketResponse{
		TicketID:       ticket.ID,
		EventName:      ticket.EventName,
		ExpirationDate: ticket.ExpirationDate,
		Owner:          ticket.Owner,
	})
}

// GetPrice handles GET /tickets/:id/price
func (h *RegistryHandler) GetPrice(c *gin.Context) {
	id, ok := ticketIDParam(c)
	if !ok {
		return
	}

	price, err := h.registryService.GetTicketPrice(c.Request.Context(), id)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if price == nil {
		response.NotFound(c, "LISTING_NOT_FOUND", "Ticket is not listed for sale")
		return
	}

	response.Success(c, &dto.TicketPriceResponse{TicketID: id, Price: *price})
}

// GetUserTickets handles GET /accounts/:account/tickets
func (h *RegistryHandler) GetUserTickets(c *gin.Context) {
	account := domain.AccountID(c.Param("account"))
	if err := account.Validate(); err != nil {
		response.BadRequest(c, "Account is required")
		return
	}

	ids, err := h.registryService.GetUserTickets(c.Request.Context(), account)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	response.Success(c, &dto.UserTicketsResponse{Account: account, TicketIDs: ids})
}

// ListEvents handles GET /events - pages through the registry event log
func (h *RegistryHandler) ListEvents(c *gin.Context) {
	var filter dto.EventListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	filter.SetDefaults()

	events, err := h.registryService.ListEvents(c.Request.Context(), filter.After, filter.Limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	items := make([]*dto.RegistryEventResponse, len(events))
	meta := &response.Meta{Count: len(events), NextAfter: filter.After}
	for i, e := range events {
		items[i] = &dto.RegistryEventResponse{
			Sequence:   e.Sequence,
			EventID:    e.EventID,
			EventType:  e.Type,
			TicketID:   e.TicketID,
			OccurredAt: e.OccurredAt,
			Payload:    e.Payload,
		}
		meta.NextAfter = e.Sequence
	}

	response.SuccessWithMeta(c, items, meta)
}

func callerFrom(c *gin.Context) (domain.AccountID, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok || userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return "", false
	}
	return domain.AccountID(userID), true
}

func ticketIDParam(c *gin.Context) (domain.TicketID, bool) {
	id, err := domain.ParseTicketID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "Ticket ID must be an unsigned integer")
		return 0, false
	}
	return id, true
}

// handleRegistryError maps registry errors to HTTP responses
func handleRegistryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrTicketNotFound):
		response.NotFound(c, "TICKET_NOT_FOUND", "Ticket not found")
	case errors.Is(err, domain.ErrListingNotFound):
		response.NotFound(c, "LISTING_NOT_FOUND", "Ticket is not listed for sale")
	case errors.Is(err, domain.ErrNotOwner):
		response.Forbidden(c, "NOT_OWNER", "Caller does not own the ticket")
	case errors.Is(err, domain.ErrPriceMismatch):
		response.Conflict(c, "PRICE_MISMATCH", "Payment does not match the listing price", "")
	case errors.Is(err, domain.ErrPaymentSettlementFailed):
		response.Error(c, http.StatusPaymentRequired, "PAYMENT_SETTLEMENT_FAILED", "Payment settlement failed", err.Error())
	case errors.Is(err, domain.ErrTicketIDsExhausted):
		response.Error(c, http.StatusInsufficientStorage, "TICKET_IDS_EXHAUSTED", "No ticket ids left to issue", "")
	case domain.IsValidationError(err):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
