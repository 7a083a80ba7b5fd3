package eligibility

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
)

// evaluateCondition tests a single enabled condition against the cart.
// An empty reason means the condition passed. Unimplemented and unknown
// condition types pass with no reason; callers rely on this fail-open
// behaviour for forward compatibility with new rule types.
func evaluateCondition(cond domain.Condition, cart *domain.Cart) string {
	switch cond.Type {
	case domain.ConditionCartValue:
		return evaluateCartValue(cond, cart)
	case domain.ConditionCustomerType:
		return evaluateCustomerType(cond, cart)
	case domain.ConditionProducts:
		return evaluateProducts(cond, cart)
	case domain.ConditionLocation:
		return evaluateLocation(cond, cart)
	case domain.ConditionCouponCode:
		return evaluateCouponCode(cond, cart)
	case domain.ConditionPreviousOrders, domain.ConditionPaymentMethod:
		// Not implemented yet; always passes.
		return ""
	default:
		return ""
	}
}

func evaluateCartValue(cond domain.Condition, cart *domain.Cart) string {
	threshold, err := strconv.ParseFloat(strings.TrimSpace(cond.Value.Scalar()), 64)
	if err != nil {
		return fmt.Sprintf("Cart value condition has invalid threshold: %s", cond.Value.Scalar())
	}

	total := cart.TotalAmount
	var pass bool
	switch cond.Operator {
	case domain.OpGTE:
		pass = total >= threshold
	case domain.OpGT:
		pass = total > threshold
	case domain.OpLTE:
		pass = total <= threshold
	case domain.OpLT:
		pass = total < threshold
	case domain.OpEQ:
		pass = total == threshold
	default:
		return fmt.Sprintf("Cart value condition has unsupported operator: %s", cond.Operator)
	}

	if pass {
		return ""
	}
	return fmt.Sprintf("Cart value %s does not meet condition: %s %s",
		formatAmount(total), cond.Operator, formatAmount(threshold))
}

func evaluateCustomerType(cond domain.Condition, cart *domain.Cart) string {
	customerType := "New"
	if cart.IsReturningCustomer() {
		customerType = "Returning"
	}

	listed := containsFold(cond.Value.List(), customerType)
	switch cond.Operator {
	case domain.OpIncludes:
		if !listed {
			return fmt.Sprintf("Customer type %s is not in allowed types", customerType)
		}
	case domain.OpExcludes:
		if listed {
			return fmt.Sprintf("Customer type %s is excluded", customerType)
		}
	}
	return ""
}

func evaluateProducts(cond domain.Condition, cart *domain.Cart) string {
	wanted := cond.Value.List()
	if len(wanted) == 0 {
		return ""
	}

	matches := func(name string) bool {
		needle := strings.ToLower(name)
		for _, item := range cart.LineItems {
			if strings.Contains(strings.ToLower(item.Title), needle) {
				return true
			}
		}
		return false
	}

	switch cond.Operator {
	case domain.OpIncludes:
		for _, name := range wanted {
			if matches(name) {
				return ""
			}
		}
		return fmt.Sprintf("Cart does not contain any of the required products: %s",
			strings.Join(wanted, ", "))
	case domain.OpExcludes:
		for _, name := range wanted {
			if matches(name) {
				return fmt.Sprintf("Cart contains excluded product: %s", name)
			}
		}
	}
	return ""
}

func evaluateLocation(cond domain.Condition, cart *domain.Cart) string {
	locations := cond.Value.List()
	if len(locations) == 0 {
		return ""
	}

	matched := containsFold(locations, cart.ShippingCountry) ||
		containsFold(locations, cart.ShippingProvince)

	switch cond.Operator {
	case domain.OpIncludes:
		if !matched {
			return fmt.Sprintf("Shipping location %s is not in allowed locations",
				describeLocation(cart))
		}
	case domain.OpExcludes:
		if matched {
			return fmt.Sprintf("Shipping location %s is excluded", describeLocation(cart))
		}
	}
	return ""
}

func evaluateCouponCode(cond domain.Condition, cart *domain.Cart) string {
	codes := cond.Value.List()
	if len(codes) == 0 {
		return ""
	}

	applied := false
	for _, code := range codes {
		if containsFold(cart.DiscountCodes, code) {
			applied = true
			break
		}
	}

	switch cond.Operator {
	case domain.OpIncludes:
		if !applied {
			return fmt.Sprintf("Cart has none of the required coupon codes: %s",
				strings.Join(codes, ", "))
		}
	case domain.OpExcludes:
		if applied {
			return "Cart has an excluded coupon code applied"
		}
	}
	return ""
}

func containsFold(list []string, target string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return true
		}
	}
	return false
}

func describeLocation(cart *domain.Cart) string {
	switch {
	case cart.ShippingCountry != "" && cart.ShippingProvince != "":
		return cart.ShippingProvince + ", " + cart.ShippingCountry
	case cart.ShippingCountry != "":
		return cart.ShippingCountry
	case cart.ShippingProvince != "":
		return cart.ShippingProvince
	default:
		return "unknown"
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
