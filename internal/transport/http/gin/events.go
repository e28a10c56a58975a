package httpgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/eventpass/internal/domain"
	"github.com/kirinyoku/eventpass/internal/service/events"
)

// @Summary  My tickets (paid purchases and RSVPs)
// @Param    Authorization  header  string  true  "Bearer token"
// @Success  200  {object}  attendance.Result
// @Failure  401  {object}  ErrorResponse
// @Router   /api/me/tickets [get]
func handleMyTickets(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		if u == nil {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
			return
		}

		res, err := d.Attendance.List(c.Request.Context(), u.ID)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, res, "private, no-cache")
	}
}

// @Summary  Create event with ticket tiers
// @Param    Authorization  header  string              true  "Bearer token"
// @Param    req            body    CreateEventRequest  true  "payload"
// @Success  201  {object}  CreateEventResponse
// @Failure  400  {object}  ErrorResponse
// @Router   /api/events [post]
func handleCreateEvent(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		tiers := make([]events.TicketInput, 0, len(req.Tickets))
		for _, t := range req.Tickets {
			tiers = append(tiers, events.TicketInput{
				Name:             t.Name,
				PriceCents:       domain.CentsFromAmount(t.Price),
				Capacity:         t.Capacity,
				SaleStartsAt:     t.SaleStartsAt,
				SaleEndsAt:       t.SaleEndsAt,
				RequiresApproval: t.RequiresApproval,
			})
		}

		e, tickets, err := d.Events.CreateEvent(c.Request.Context(), currentUser(c).ID, events.EventInput{
			Title:            req.Title,
			Description:      req.Description,
			StartsAt:         req.StartsAt,
			Location:         req.Location,
			JoinType:         domain.JoinType(req.JoinType),
			Visibility:       domain.Visibility(req.Visibility),
			RequiresApproval: req.RequiresApproval,
			AllowPlusOne:     req.AllowPlusOne,
			Tags:             req.Tags,
		}, tiers)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, CreateEventResponse{Event: *e, Tickets: tickets})
	}
}

// @Summary  RSVP to an event
// @Param    Authorization  header  string       true  "Bearer token"
// @Param    id             path    string       true  "Event ID (uuid)"
// @Param    req            body    RSVPRequest  true  "payload"
// @Success  200  {object}  events.RSVPResult
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse "ticketed event"
// @Router   /api/events/{id}/rsvp [post]
func handleRSVP(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req RSVPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		res, err := d.Events.RSVP(c.Request.Context(), eventID, currentUser(c).ID, domain.RSVPStatus(req.Status))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

// @Summary  Ticket availability
// @Param    id  path  string  true  "Ticket ID (uuid)"
// @Success  200  {object}  domain.TicketAvailability
// @Failure  404  {object}  ErrorResponse
// @Router   /api/tickets/{id}/availability [get]
func handleTicketAvailability(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticketID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		a, err := d.Events.TicketAvailability(c.Request.Context(), ticketID)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, a, "public, max-age=15")
	}
}
