package callbridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
)

// BuildRequest assembles the call request for a claimed queue entry. The
// variable map feeds the provider's call script placeholders.
func BuildRequest(agent *domain.Agent, cart *domain.Cart, entry *domain.CallQueueEntry) CallRequest {
	vars := map[string]string{
		"customer_name": customerName(cart),
		"cart_total":    strconv.FormatFloat(cart.TotalAmount, 'f', 2, 64),
		"currency":      cart.Currency,
		"item_count":    strconv.Itoa(len(cart.LineItems)),
		"checkout_id":   cart.CheckoutID,
	}
	if len(cart.LineItems) > 0 {
		titles := make([]string, 0, len(cart.LineItems))
		for _, item := range cart.LineItems {
			titles = append(titles, item.Title)
		}
		vars["items"] = strings.Join(titles, ", ")
	}

	return CallRequest{
		EntryID:       entry.ID,
		AgentID:       agent.ID,
		AgentPhone:    NormalizePhone(agent.PhoneNumber),
		CustomerPhone: NormalizePhone(cart.Phone),
		Variables:     vars,
		CorrelationID: entry.CorrelationID,
		AttemptNumber: entry.AttemptNumber,
	}
}

// NormalizePhone strips formatting characters and ensures a leading plus so
// the number is E.164-shaped. Digits-only input is passed through with a
// plus prefixed; already-normalized numbers are returned unchanged.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	return "+" + digits
}

func customerName(cart *domain.Cart) string {
	if cart.CustomerName != "" {
		return cart.CustomerName
	}
	return "there"
}

// ClassifyError maps a provider error message onto retryability. Rate
// limits, timeouts and transient network failures are worth retrying;
// anything else is terminal.
func ClassifyError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"rate limit", "too many requests", "timeout", "timed out", "temporarily", "busy", "connection reset", "service unavailable", "network"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer for log lines without leaking variables.
func (r CallRequest) String() string {
	return fmt.Sprintf("entry=%s agent=%s attempt=%d", r.EntryID, r.AgentID, r.AttemptNumber)
}
