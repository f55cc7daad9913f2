package domain

// Actor is the authenticated identity behind a request.
type Actor struct {
	UserID string
	Email  string
	Admin  bool
}

func (a Actor) Anonymous() bool { return a.UserID == "" }

// CanAccess reports whether the actor owns the order or is an administrator.
func (a Actor) CanAccess(o *Order) bool {
	return a.Admin || (a.UserID != "" && a.UserID == o.UserID)
}

// System is used by background processes such as the payment repair pass.
var System = Actor{UserID: "system", Admin: true}
