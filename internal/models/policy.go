// internal/models/policy.go
package models

import "time"

// DeliveryPolicy gates and scopes email delivery for one fact type.
type DeliveryPolicy struct {
	Type          FactType  `json:"type"`
	SendEmail     bool      `json:"sendEmail"`
	DelayMinutes  int       `json:"delayMinutes"` // hint for the external trigger, not enforced by a run
	OnlyForTarget bool      `json:"onlyForTarget"`
	Role          *string   `json:"role,omitempty"` // used only when OnlyForTarget is false
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DefaultPolicy is the policy created lazily for a type seen for the first time.
func DefaultPolicy(t FactType) DeliveryPolicy {
	return DeliveryPolicy{
		Type:          t,
		SendEmail:     false,
		DelayMinutes:  0,
		OnlyForTarget: true,
	}
}

// PolicyUpdate carries the fields an upsert changes. Nil fields keep their
// current value; ClearRole removes the role.
type PolicyUpdate struct {
	SendEmail     *bool
	DelayMinutes  *int
	OnlyForTarget *bool
	Role          *string
	ClearRole     bool
}

// Apply returns p with u's fields applied.
func (u PolicyUpdate) Apply(p DeliveryPolicy) DeliveryPolicy {
	if u.SendEmail != nil {
		p.SendEmail = *u.SendEmail
	}
	if u.DelayMinutes != nil {
		p.DelayMinutes = *u.DelayMinutes
	}
	if u.OnlyForTarget != nil {
		p.OnlyForTarget = *u.OnlyForTarget
	}
	if u.ClearRole {
		p.Role = nil
	} else if u.Role != nil {
		role := *u.Role
		p.Role = &role
	}
	return p
}
