package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentStatus enumerates lifecycle states of a calling agent.
type AgentStatus string

const (
	AgentStatusDraft  AgentStatus = "draft"
	AgentStatusLive   AgentStatus = "live"
	AgentStatusPaused AgentStatus = "paused"
)

// ConditionType identifies one rule family an agent can configure.
type ConditionType string

const (
	ConditionCartValue      ConditionType = "cart-value"
	ConditionCustomerType   ConditionType = "customer-type"
	ConditionProducts       ConditionType = "products"
	ConditionPreviousOrders ConditionType = "previous-orders"
	ConditionLocation       ConditionType = "location"
	ConditionCouponCode     ConditionType = "coupon-code"
	ConditionPaymentMethod  ConditionType = "payment-method"
)

// Operator is the comparison applied by a condition.
type Operator string

const (
	OpGTE      Operator = ">="
	OpGT       Operator = ">"
	OpLTE      Operator = "<="
	OpLT       Operator = "<"
	OpEQ       Operator = "=="
	OpIncludes Operator = "includes"
	OpExcludes Operator = "excludes"
)

// RuleValue is the value side of a condition. Multi-select conditions carry
// a list, scalar conditions a single string. Modeled as an explicit variant
// rather than runtime type sniffing.
type RuleValue struct {
	scalar string
	list   []string
	isList bool
}

// NewScalarValue builds a scalar rule value.
func NewScalarValue(v string) RuleValue {
	return RuleValue{scalar: v}
}

// NewListValue builds a list rule value.
func NewListValue(vs ...string) RuleValue {
	return RuleValue{list: vs, isList: true}
}

// Scalar returns the scalar form. For list values the first element is
// returned so legacy single-select rules keep working.
func (v RuleValue) Scalar() string {
	if v.isList {
		if len(v.list) == 0 {
			return ""
		}
		return v.list[0]
	}
	return v.scalar
}

// List returns the list form; a scalar value is a one-element list.
func (v RuleValue) List() []string {
	if v.isList {
		return v.list
	}
	if v.scalar == "" {
		return nil
	}
	return []string{v.scalar}
}

// IsEmpty reports whether no value is configured.
func (v RuleValue) IsEmpty() bool {
	if v.isList {
		return len(v.list) == 0
	}
	return v.scalar == ""
}

// UnmarshalJSON accepts either a JSON string or an array of strings, the two
// shapes stored by the rule configuration wizard.
func (v *RuleValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = NewScalarValue(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = NewListValue(list...)
		return nil
	}
	return fmt.Errorf("rule value: expected string or string array, got %s", string(data))
}

// MarshalJSON writes the value back in its original shape.
func (v RuleValue) MarshalJSON() ([]byte, error) {
	if v.isList {
		return json.Marshal(v.list)
	}
	return json.Marshal(v.scalar)
}

// Condition is one enabled/disabled rule in an agent's rule set.
type Condition struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator"`
	Enabled  bool          `json:"enabled"`
	Value    RuleValue     `json:"value"`
}

// WaitUnit is the unit of the post-abandonment wait before the first call.
type WaitUnit string

const (
	WaitUnitMinutes WaitUnit = "minutes"
	WaitUnitHours   WaitUnit = "hours"
)

// CallSchedule is the agent's calling window and retry configuration.
type CallSchedule struct {
	WaitTime       int      `json:"waitTime"`
	WaitUnit       WaitUnit `json:"waitUnit"`
	MaxRetries     int      `json:"maxRetries"`
	RetryIntervals []int    `json:"retryIntervals"`
	CallTimeStart  string   `json:"callTimeStart"`
	CallTimeEnd    string   `json:"callTimeEnd"`
	WeekendCalling bool     `json:"weekendCalling"`
	Timezone       string   `json:"timezone"`
	RespectDND     bool     `json:"respectDND"`
}

// WaitDuration converts the wait-time setting into a duration.
func (s CallSchedule) WaitDuration() time.Duration {
	if s.WaitTime <= 0 {
		return 0
	}
	switch s.WaitUnit {
	case WaitUnitHours:
		return time.Duration(s.WaitTime) * time.Hour
	default:
		return time.Duration(s.WaitTime) * time.Minute
	}
}

// RetryDelay returns the configured delay before the given retry (1-based).
// Falls back to the provided default when no interval is configured.
func (s CallSchedule) RetryDelay(retry int, fallback time.Duration) time.Duration {
	if retry >= 1 && retry <= len(s.RetryIntervals) && s.RetryIntervals[retry-1] > 0 {
		return time.Duration(s.RetryIntervals[retry-1]) * time.Minute
	}
	return fallback
}

// Agent is the rule owner: its conditions decide eligibility and its
// schedule decides when calls may be placed.
type Agent struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Status      AgentStatus
	PhoneNumber string
	Conditions  []Condition
	Schedule    CallSchedule
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsLive reports whether the agent may place calls.
func (a *Agent) IsLive() bool {
	return a.Status == AgentStatusLive
}
