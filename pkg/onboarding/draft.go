package onboarding

import (
	"regexp"
	"strings"

	"github.com/tendant/simple-onboard/pkg/errors"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Details is the data entered on the details step
type Details struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
	Location        string
	Phone           string
}

// Validate checks required fields and the password confirmation
func (d Details) Validate() error {
	required := []struct {
		field, label, value string
	}{
		{"first_name", "First name", d.FirstName},
		{"last_name", "Last name", d.LastName},
		{"email", "Email", d.Email},
		{"password", "Password", d.Password},
		{"confirm_password", "Password confirmation", d.ConfirmPassword},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errors.MissingRequired(r.field, r.label)
		}
	}
	if !emailRegex.MatchString(strings.TrimSpace(d.Email)) {
		return errors.Validation("email", "Enter a valid email address.")
	}
	if d.Password != d.ConfirmPassword {
		return errors.Validation("confirm_password", "Passwords do not match.")
	}
	return nil
}

// Skill is a selected skill. Custom skills were typed by the user and are
// not matched against the catalog downstream.
type Skill struct {
	ID       string
	Name     string
	Category string
	Custom   bool
}

// Draft accumulates registration data across steps
type Draft struct {
	Role    Role
	Details Details
	Skills  []Skill
}

func (d *Draft) skillIndex(name string) int {
	for i, s := range d.Skills {
		if strings.EqualFold(s.Name, name) {
			return i
		}
	}
	return -1
}

// HasSkill reports whether a skill with name is selected
func (d Draft) HasSkill(name string) bool {
	return d.skillIndex(strings.TrimSpace(name)) >= 0
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
