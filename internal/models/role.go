package models

// Role is the negotiation role assigned to a participant by arrival order.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)
