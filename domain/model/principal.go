package model

const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)

// Principal is the authenticated identity attached to a gateway connection.
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Grant is the authorization evidence for one principal within one project
// context. It is re-evaluated on every join and send, never cached.
type Grant struct {
	IsOwner     bool
	HasProposal bool
	HasExchange bool
}

// Allows reports whether the grant qualifies the principal for the room.
func (g Grant) Allows() bool {
	return g.IsOwner || g.HasProposal || g.HasExchange
}
