package domain

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleDoctor     Role = "doctor"
	RolePharmacist Role = "pharmacist"
	RoleNurse      Role = "nurse"
)

type Action string

const (
	ActionCreatePrescription Action = "create_prescription"
	ActionDispatch           Action = "dispatch"
	ActionCancelPrescription Action = "cancel_prescription"
)

// Actor is the caller as authenticated by the outer auth layer.
type Actor struct {
	ID   int64
	Role Role
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePharmacist, RoleNurse:
		return true
	}
	return false
}
