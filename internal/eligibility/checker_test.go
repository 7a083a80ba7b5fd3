package eligibility

import (
	"testing"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
)

func cartWithTotal(total float64) *domain.Cart {
	return &domain.Cart{TotalAmount: total, Currency: "USD"}
}

func agentWith(conds ...domain.Condition) *domain.Agent {
	return &domain.Agent{Status: domain.AgentStatusLive, Conditions: conds}
}

func TestCartValueCondition(t *testing.T) {
	cond := domain.Condition{
		Type:     domain.ConditionCartValue,
		Operator: domain.OpGTE,
		Enabled:  true,
		Value:    domain.NewScalarValue("50"),
	}

	res := Check(agentWith(cond), cartWithTotal(80), nil)
	if !res.Eligible {
		t.Fatalf("expected cart total 80 to pass >= 50, got reasons %v", res.Reasons)
	}

	res = Check(agentWith(cond), cartWithTotal(30), nil)
	if res.Eligible {
		t.Fatal("expected cart total 30 to fail >= 50")
	}
	want := "Cart value 30 does not meet condition: >= 50"
	if len(res.Reasons) != 1 || res.Reasons[0] != want {
		t.Fatalf("expected reason %q, got %v", want, res.Reasons)
	}
}

func TestCartValueOperators(t *testing.T) {
	cases := []struct {
		op    domain.Operator
		total float64
		pass  bool
	}{
		{domain.OpGT, 51, true},
		{domain.OpGT, 50, false},
		{domain.OpLTE, 50, true},
		{domain.OpLTE, 51, false},
		{domain.OpLT, 49, true},
		{domain.OpLT, 50, false},
		{domain.OpEQ, 50, true},
		{domain.OpEQ, 49.5, false},
	}

	for _, tc := range cases {
		cond := domain.Condition{
			Type:     domain.ConditionCartValue,
			Operator: tc.op,
			Enabled:  true,
			Value:    domain.NewScalarValue("50"),
		}
		res := Check(agentWith(cond), cartWithTotal(tc.total), nil)
		if res.Eligible != tc.pass {
			t.Errorf("operator %s with total %v: expected pass=%v, got reasons %v",
				tc.op, tc.total, tc.pass, res.Reasons)
		}
	}
}

func TestDisabledConditionIsSkipped(t *testing.T) {
	cond := domain.Condition{
		Type:     domain.ConditionCartValue,
		Operator: domain.OpGTE,
		Enabled:  false,
		Value:    domain.NewScalarValue("1000"),
	}

	res := Check(agentWith(cond), cartWithTotal(5), nil)
	if !res.Eligible {
		t.Fatalf("disabled condition must be skipped, got reasons %v", res.Reasons)
	}
}

func TestCustomerTypeCondition(t *testing.T) {
	returningID := "cust_123"
	returning := &domain.Cart{TotalAmount: 10, CustomerID: &returningID}
	newCustomer := &domain.Cart{TotalAmount: 10}

	includes := domain.Condition{
		Type:     domain.ConditionCustomerType,
		Operator: domain.OpIncludes,
		Enabled:  true,
		Value:    domain.NewListValue("Returning"),
	}
	if res := Check(agentWith(includes), returning, nil); !res.Eligible {
		t.Fatalf("returning customer should pass includes Returning, got %v", res.Reasons)
	}
	if res := Check(agentWith(includes), newCustomer, nil); res.Eligible {
		t.Fatal("new customer should fail includes Returning")
	}

	excludes := domain.Condition{
		Type:     domain.ConditionCustomerType,
		Operator: domain.OpExcludes,
		Enabled:  true,
		Value:    domain.NewListValue("new"),
	}
	if res := Check(agentWith(excludes), newCustomer, nil); res.Eligible {
		t.Fatal("new customer should fail excludes New (case-insensitive)")
	}
	if res := Check(agentWith(excludes), returning, nil); !res.Eligible {
		t.Fatalf("returning customer should pass excludes New, got %v", res.Reasons)
	}
}

func TestProductsCondition(t *testing.T) {
	cart := &domain.Cart{
		TotalAmount: 10,
		LineItems: []domain.LineItem{
			{Title: "Blue Running Shoes", Quantity: 1, Price: 10},
		},
	}

	includes := domain.Condition{
		Type:     domain.ConditionProducts,
		Operator: domain.OpIncludes,
		Enabled:  true,
		Value:    domain.NewListValue("running shoes"),
	}
	if res := Check(agentWith(includes), cart, nil); !res.Eligible {
		t.Fatalf("substring match should be case-insensitive, got %v", res.Reasons)
	}

	includes.Value = domain.NewListValue("Socks")
	if res := Check(agentWith(includes), cart, nil); res.Eligible {
		t.Fatal("expected includes Socks to fail for shoe-only cart")
	}

	excludes := domain.Condition{
		Type:     domain.ConditionProducts,
		Operator: domain.OpExcludes,
		Enabled:  true,
		Value:    domain.NewListValue("Shoes"),
	}
	if res := Check(agentWith(excludes), cart, nil); res.Eligible {
		t.Fatal("expected excludes Shoes to fail for shoe cart")
	}
}

func TestLocationCondition(t *testing.T) {
	cart := &domain.Cart{TotalAmount: 10, ShippingCountry: "US", ShippingProvince: "CA"}

	includes := domain.Condition{
		Type:     domain.ConditionLocation,
		Operator: domain.OpIncludes,
		Enabled:  true,
		Value:    domain.NewListValue("US"),
	}
	if res := Check(agentWith(includes), cart, nil); !res.Eligible {
		t.Fatalf("country match should pass, got %v", res.Reasons)
	}

	includes.Value = domain.NewListValue()
	if res := Check(agentWith(includes), cart, nil); !res.Eligible {
		t.Fatalf("empty location list must always pass, got %v", res.Reasons)
	}

	excludes := domain.Condition{
		Type:     domain.ConditionLocation,
		Operator: domain.OpExcludes,
		Enabled:  true,
		Value:    domain.NewListValue("ca"),
	}
	if res := Check(agentWith(excludes), cart, nil); res.Eligible {
		t.Fatal("province match should fail excludes (case-insensitive)")
	}
}

func TestCouponCodeCondition(t *testing.T) {
	cart := &domain.Cart{TotalAmount: 10, DiscountCodes: []string{"SAVE10"}}

	includes := domain.Condition{
		Type:     domain.ConditionCouponCode,
		Operator: domain.OpIncludes,
		Enabled:  true,
		Value:    domain.NewListValue("save10"),
	}
	if res := Check(agentWith(includes), cart, nil); !res.Eligible {
		t.Fatalf("exact case-insensitive coupon match should pass, got %v", res.Reasons)
	}

	excludes := domain.Condition{
		Type:     domain.ConditionCouponCode,
		Operator: domain.OpExcludes,
		Enabled:  true,
		Value:    domain.NewListValue("SAVE10"),
	}
	if res := Check(agentWith(excludes), cart, nil); res.Eligible {
		t.Fatal("applied excluded coupon should fail")
	}

	excludes.Value = domain.NewListValue()
	if res := Check(agentWith(excludes), cart, nil); !res.Eligible {
		t.Fatalf("empty coupon list must always pass, got %v", res.Reasons)
	}
}

func TestUnimplementedAndUnknownTypesPass(t *testing.T) {
	conds := []domain.Condition{
		{Type: domain.ConditionPreviousOrders, Enabled: true},
		{Type: domain.ConditionPaymentMethod, Enabled: true},
		{Type: domain.ConditionType("loyalty-tier"), Operator: domain.OpIncludes, Enabled: true},
	}

	res := Check(agentWith(conds...), cartWithTotal(1), nil)
	if !res.Eligible || len(res.Reasons) != 0 {
		t.Fatalf("unimplemented and unknown conditions must fail open, got %v", res.Reasons)
	}
}

func TestCheckIsPure(t *testing.T) {
	agent := agentWith(domain.Condition{
		Type:     domain.ConditionCartValue,
		Operator: domain.OpGTE,
		Enabled:  true,
		Value:    domain.NewScalarValue("50"),
	})
	cart := cartWithTotal(30)

	first := Check(agent, cart, nil)
	for i := 0; i < 10; i++ {
		again := Check(agent, cart, nil)
		if again.Eligible != first.Eligible || len(again.Reasons) != len(first.Reasons) {
			t.Fatal("repeated evaluation produced different results")
		}
		for j := range again.Reasons {
			if again.Reasons[j] != first.Reasons[j] {
				t.Fatal("repeated evaluation produced different reasons")
			}
		}
	}
}

func TestMultipleFailingConditionsAggregateReasons(t *testing.T) {
	conds := []domain.Condition{
		{Type: domain.ConditionCartValue, Operator: domain.OpGTE, Enabled: true, Value: domain.NewScalarValue("100")},
		{Type: domain.ConditionCouponCode, Operator: domain.OpIncludes, Enabled: true, Value: domain.NewListValue("VIP")},
	}

	res := Check(agentWith(conds...), cartWithTotal(10), nil)
	if res.Eligible {
		t.Fatal("expected ineligible")
	}
	if len(res.Reasons) != 2 {
		t.Fatalf("expected 2 reasons, got %v", res.Reasons)
	}
}
