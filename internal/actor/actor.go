// Package actor carries the authenticated caller through every core
// operation. Stores never read identity from ambient state; handlers
// build an Actor from the verified token and pass it down explicitly.
package actor

// Actor identifies who is acting and in which tenant.
type Actor struct {
	ID       string `json:"actorId"`
	TenantID string `json:"tenantId"`
}

// Valid reports whether both identity fields are present.
func (a Actor) Valid() bool {
	return a.ID != "" && a.TenantID != ""
}
