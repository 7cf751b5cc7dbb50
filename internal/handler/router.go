package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/pkg/middleware"
)

// Routes groups the handlers and the middleware the routes need
type Routes struct {
	Health    *HealthHandler
	Payments  *PaymentHandler
	Webhooks  *WebhookHandler
	Inventory *InventoryHandler
	Waitlist  *WaitlistHandler
	Tickets   *TicketHandler

	// Auth resolves the caller on authenticated routes
	Auth gin.HandlerFunc
	// Purchase runs before the purchase and refund handlers, e.g. rate
	// limiting and idempotency
	Purchase []gin.HandlerFunc
	// Organizer guards waitlist administration
	Organizer gin.HandlerFunc
}

// Register mounts every route on r. The webhook is unauthenticated; its
// signature is the credential.
func (rt *Routes) Register(r *gin.Engine) {
	if rt.Health != nil {
		r.GET("/health", rt.Health.Health)
		r.GET("/ready", rt.Health.Ready)
	}

	v1 := r.Group("/api/v1")
	if rt.Webhooks != nil {
		v1.POST("/payments/webhook", rt.Webhooks.HandleWebhook)
	}
	if rt.Inventory != nil {
		v1.GET("/ticket-types/:id/availability", rt.Inventory.Availability)
	}

	auth := rt.Auth
	if auth == nil {
		auth = func(c *gin.Context) { c.Next() }
	}
	organizer := rt.Organizer
	if organizer == nil {
		organizer = middleware.RequireRole(PrivilegedRoles...)
	}

	authed := v1.Group("", auth)
	if rt.Payments != nil {
		purchase := append(append([]gin.HandlerFunc{}, rt.Purchase...), rt.Payments.Purchase)
		authed.POST("/purchase", purchase...)

		payments := authed.Group("/payments")
		{
			payments.POST("/confirm", rt.Payments.Confirm)
			payments.GET("", rt.Payments.ListPayments)
			payments.GET("/:id", rt.Payments.GetPayment)
			refund := append(append([]gin.HandlerFunc{}, rt.Purchase...), rt.Payments.Refund)
			payments.POST("/:id/refund", refund...)
		}
	}

	if rt.Tickets != nil {
		authed.POST("/tickets/:id/cancel", rt.Tickets.Cancel)
	}

	if rt.Waitlist != nil {
		waitlist := authed.Group("/events/:eventId/waitlist")
		{
			waitlist.POST("", rt.Waitlist.Join)
			waitlist.GET("", organizer, rt.Waitlist.List)
			waitlist.POST("/notify", organizer, rt.Waitlist.Notify)
			waitlist.DELETE("/:entryId", rt.Waitlist.Cancel)
		}
	}
}
