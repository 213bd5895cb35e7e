package onboarding

import "strings"

// Step is one screen of the onboarding flow
type Step int

const (
	StepRole Step = iota
	StepDetails
	StepVerification
	StepSkills
	StepPasskey
	StepComplete
)

func (s Step) String() string {
	switch s {
	case StepRole:
		return "role"
	case StepDetails:
		return "details"
	case StepVerification:
		return "verification"
	case StepSkills:
		return "skills"
	case StepPasskey:
		return "passkey"
	case StepComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Role is the side of the marketplace the account joins
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

// ParseRole accepts a role name in any case
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleClient:
		return RoleClient, true
	case RoleFreelancer:
		return RoleFreelancer, true
	}
	return "", false
}

// Destination is where the application lands after onboarding
type Destination string

const (
	DestinationFreelancerDashboard Destination = "freelancer-dashboard"
	DestinationProjectBrowse       Destination = "project-browse"
)

// transition holds the role-dependent neighbours of a step. A role missing
// from a map has no transition in that direction.
type transition struct {
	next map[Role]Step
	back map[Role]Step
}

func both(s Step) map[Role]Step {
	return map[Role]Step{RoleClient: s, RoleFreelancer: s}
}

var transitions = map[Step]transition{
	StepRole: {
		next: both(StepDetails),
	},
	StepDetails: {
		next: both(StepVerification),
		back: both(StepRole),
	},
	StepVerification: {
		next: map[Role]Step{RoleClient: StepPasskey, RoleFreelancer: StepSkills},
		back: both(StepDetails),
	},
	StepSkills: {
		next: map[Role]Step{RoleFreelancer: StepPasskey},
		back: map[Role]Step{RoleFreelancer: StepVerification},
	},
	StepPasskey: {
		next: both(StepComplete),
		back: map[Role]Step{RoleClient: StepVerification, RoleFreelancer: StepSkills},
	},
	StepComplete: {},
}

// Next returns the step after s for role
func (s Step) Next(role Role) (Step, bool) {
	next, ok := transitions[s].next[role]
	return next, ok
}

// Back returns the step before s for role
func (s Step) Back(role Role) (Step, bool) {
	back, ok := transitions[s].back[role]
	return back, ok
}

// Path lists the steps a role visits, in order
func Path(role Role) []Step {
	path := []Step{StepRole}
	for s := StepRole; ; {
		next, ok := s.Next(role)
		if !ok {
			return path
		}
		path = append(path, next)
		s = next
	}
}

// Progress is the position of the current step on the role's path
type Progress struct {
	Index    int
	Total    int
	Fraction float64
}
