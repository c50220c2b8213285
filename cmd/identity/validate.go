package identity

import (
	"regexp"
	"unicode/utf8"
)

// Field names a registration input field.
type Field string

const (
	FieldUsername Field = "username"
	FieldPassword Field = "password"
	FieldGender   Field = "gender"
	FieldAge      Field = "age"
	FieldPhone    Field = "phone"
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 20
	AgeMin         = 1
	AgeMax         = 120
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	phoneRe    = regexp.MustCompile(`^1[3-9][0-9]{9}$`)
)

// PasswordPolicy checks a plaintext password. password.Config satisfies it.
type PasswordPolicy interface {
	Validate(password string) error
}

// Registration is raw registration input as received from a client.
type Registration struct {
	Username string
	Password string
	Identity string
	Gender   string
	Age      int
	Phone    string
}

// ValidateUsername checks length (3..20) and the [A-Za-z0-9_] alphabet.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < UsernameMinLen || n > UsernameMaxLen {
		return ValidationError{Field: FieldUsername, Reason: "length must be 3..20"}
	}
	if !usernameRe.MatchString(username) {
		return ValidationError{Field: FieldUsername, Reason: "letters, digits and underscore only"}
	}
	return nil
}

// ValidatePhone checks the mainland mobile number format.
func ValidatePhone(phone string) error {
	if !phoneRe.MatchString(phone) {
		return ValidationError{Field: FieldPhone, Reason: "invalid phone number"}
	}
	return nil
}

// ValidateAge checks 1..120 inclusive.
func ValidateAge(age int) error {
	if age < AgeMin || age > AgeMax {
		return ValidationError{Field: FieldAge, Reason: "must be 1..120"}
	}
	return nil
}

// Validate checks r in a fixed order (username, password, gender, age,
// phone) and returns the first violation as a ValidationError.
func (r Registration) Validate(policy PasswordPolicy) (NewAccount, error) {
	if err := ValidateUsername(r.Username); err != nil {
		return NewAccount{}, err
	}
	if err := policy.Validate(r.Password); err != nil {
		return NewAccount{}, ValidationError{Field: FieldPassword, Reason: err.Error()}
	}
	gender, ok := ParseGender(r.Gender)
	if !ok {
		return NewAccount{}, ValidationError{Field: FieldGender, Reason: "must be male or female"}
	}
	if err := ValidateAge(r.Age); err != nil {
		return NewAccount{}, err
	}
	if err := ValidatePhone(r.Phone); err != nil {
		return NewAccount{}, err
	}

	return NewAccount{
		Username: r.Username,
		Password: r.Password,
		Role:     RoleFromLabel(r.Identity),
		Gender:   gender,
		Age:      r.Age,
		Phone:    r.Phone,
	}, nil
}
