package identity

import "time"

// Role is the stored user type. Values match the integer identity column.
type Role int

const (
	RolePatient      Role = 0
	RolePractitioner Role = 1
)

// RoleFromLabel maps a registration identity label to a Role.
// "doctor" and "医生" are practitioners; anything else is a patient.
func RoleFromLabel(label string) Role {
	switch label {
	case "doctor", "医生":
		return RolePractitioner
	default:
		return RolePatient
	}
}

// UserType is the client-facing name of the role.
func (r Role) UserType() string {
	if r == RolePractitioner {
		return "doctor"
	}
	return "patient"
}

func (r Role) String() string { return r.UserType() }

// Gender is stored canonically as "male" or "female".
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender accepts the canonical values and the 男/女 aliases.
func ParseGender(s string) (Gender, bool) {
	switch s {
	case "male", "男":
		return GenderMale, true
	case "female", "女":
		return GenderFemale, true
	default:
		return "", false
	}
}

// Account is a stored user. Username is unique and case-sensitive.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	Gender       Gender
	Age          int
	Phone        string
	CreatedAt    time.Time
}

// NewAccount is a validated registration, before hashing.
type NewAccount struct {
	Username string
	Password string
	Role     Role
	Gender   Gender
	Age      int
	Phone    string
}

// canonicalGender maps rows written with the 男/女 aliases to the canonical form.
func canonicalGender(s string) Gender {
	if g, ok := ParseGender(s); ok {
		return g
	}
	return Gender(s)
}
