package redis

import (
	"fmt"

	"github.com/google/uuid"
)

const ns = "eventpass:v1"

func KeyTicketAvailability(ticketID uuid.UUID) string {
	return fmt.Sprintf("%s:ticket:%s:availability", ns, ticketID)
}

func KeyStripeCustomer(userID string) string {
	return fmt.Sprintf("%s:customer:%s", ns, userID)
}

func KeyRateLimit(scope string) string {
	return fmt.Sprintf("%s:rl:%s", ns, scope)
}

func KeyIdemWebhook(providerEventID string) string {
	return fmt.Sprintf("%s:idem:webhook:%s", ns, providerEventID)
}

func KeyIdemPurchase(userID, idemKey string) string {
	return fmt.Sprintf("%s:idem:purchase:%s:%s", ns, userID, idemKey)
}

func ChannelTicketsChanged() string {
	return ns + ":tickets:changed"
}
