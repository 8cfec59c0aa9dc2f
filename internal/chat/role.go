package chat

import (
	"github.com/samber/lo"

	"booking-chat/internal/models"
)

// RoleOf derives the principal's role in a session. It fails when the
// session is not active or the principal is neither the requester, the
// stored fulfiller, nor a user assigned to the booking. A principal that is
// both requester and fulfiller acts as the requester.
func RoleOf(principalID int64, m models.Membership) (models.Role, bool) {
	if !m.Session.IsActive() {
		return "", false
	}
	if principalID == m.Session.RequesterID {
		return models.RoleRequester, true
	}
	if m.Session.FulfillerID != nil && *m.Session.FulfillerID == principalID {
		return models.RoleFulfiller, true
	}
	if lo.Contains(m.AssignedUserIDs, principalID) {
		return models.RoleFulfiller, true
	}
	return "", false
}
