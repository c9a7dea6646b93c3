package models

type Role string

const (
	RoleCustomer Role = "customer"
	RoleOwner    Role = "owner"
	RoleCourier  Role = "courier"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleOwner, RoleCourier:
		return true
	default:
		return false
	}
}

// Identity is the authenticated principal of one session.
type Identity struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	SessionID string `json:"session_id"`
	FullName  string `json:"full_name,omitempty"`
	Mobile    string `json:"mobile,omitempty"`
}

// IdentityRooms are the rooms a connection of this identity is always a member of.
func (i Identity) IdentityRooms() []Room {
	rooms := []Room{UserRoom(i.ID)}
	if i.Role == RoleCourier {
		rooms = append(rooms, CourierRoom(i.ID))
	}
	return rooms
}
