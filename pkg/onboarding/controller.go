package onboarding

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/notification"
	"github.com/tendant/simple-onboard/pkg/otp"
	"github.com/tendant/simple-onboard/pkg/passkey"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

// Remote is the account and skills side of the backend
type Remote interface {
	CreateAccount(ctx context.Context, req api.CreateAccountRequest) (*api.CreateAccountResponse, error)
	ListSkills(ctx context.Context) ([]api.Skill, error)
	AddSkill(ctx context.Context, name string) (*api.AddSkillResponse, error)
}

// Verifier runs the email code challenge. *otp.Manager implements it.
type Verifier interface {
	Begin(email string) otp.Challenge
	Discard()
	Challenge() (otp.Challenge, bool)
	Send(ctx context.Context, email string) error
	Resend(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) (*sessionstore.Session, error)
}

// Enroller runs the passkey ceremony. *passkey.Ceremony implements it.
type Enroller interface {
	Begin() passkey.EnrollmentContext
	Skip()
	State() passkey.State
	Enroll(ctx context.Context, label string) error
}

// State is a snapshot of the flow for rendering
type State struct {
	Step        Step
	Role        Role
	AccountID   string
	OTPAttempts int
	OTPResends  int
	Err         error
	Message     string
	Field       string
	Session     *sessionstore.Session
	InFlight    bool
	Enrollment  passkey.Phase
	DeviceLabel string
}

type Controller struct {
	remote   Remote
	verifier Verifier
	enroller Enroller
	notices  notification.Channel

	mu        sync.Mutex
	step      Step
	draft     Draft
	accountID string
	created   bool
	// abandonedEmail is the email of a create abandoned while in flight; the
	// server may have committed it
	abandonedEmail string
	session   *sessionstore.Session
	catalog   []api.Skill
	lastErr   error
	inFlight  bool
	token     uuid.UUID
	cancel    context.CancelFunc
}

// Option is a function that configures a Controller
type Option func(*Controller)

// WithNotificationChannel sets where step errors are published
func WithNotificationChannel(ch notification.Channel) Option {
	return func(c *Controller) {
		c.notices = ch
	}
}

// NewController creates a controller positioned on the role step
func NewController(remote Remote, verifier Verifier, enroller Enroller, opts ...Option) *Controller {
	c := &Controller{
		remote:   remote,
		verifier: verifier,
		enroller: enroller,
		notices:  notification.NopChannel{},
		step:     StepRole,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the flow
func (c *Controller) State() State {
	c.mu.Lock()
	s := State{
		Step:      c.step,
		Role:      c.draft.Role,
		AccountID: c.accountID,
		Err:       c.lastErr,
		InFlight:  c.inFlight,
	}
	if c.lastErr != nil {
		s.Message = errors.UserMessage(c.lastErr)
		s.Field = errors.FieldOf(c.lastErr)
	}
	if c.session != nil {
		session := *c.session
		s.Session = &session
	}
	step := c.step
	c.mu.Unlock()

	if ch, ok := c.verifier.Challenge(); ok {
		s.OTPAttempts = ch.Attempts
		s.OTPResends = ch.Resends
	}
	if step == StepPasskey {
		es := c.enroller.State()
		s.Enrollment = es.Phase
		s.DeviceLabel = es.DeviceLabel
	}
	return s
}

// Draft returns a deep copy of the registration draft
func (c *Controller) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out Draft
	if err := copier.CopyWithOption(&out, &c.draft, copier.Option{DeepCopy: true}); err != nil {
		slog.Error("Failed to copy draft", "err", err)
	}
	return out
}

// Catalog returns the loaded skills catalog
func (c *Controller) Catalog() []api.Skill {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Skill, len(c.catalog))
	copy(out, c.catalog)
	return out
}

// Progress reports the position on the role's path. Before a role is
// chosen the longest path is assumed.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()

	role := c.draft.Role
	if role == "" {
		role = RoleFreelancer
	}
	path := Path(role)
	p := Progress{Total: len(path)}
	for i, s := range path {
		if s == c.step {
			p.Index = i + 1
			break
		}
	}
	p.Fraction = float64(p.Index) / float64(p.Total)
	return p
}

// surface records err as the step error and publishes it. The caller holds mu.
func (c *Controller) surface(err error) error {
	if err == nil || errors.IsCode(err, errors.ErrCodeStaleResponse) || errors.IsCode(err, errors.ErrCodeInFlight) {
		return err
	}
	c.lastErr = err
	notification.Error(c.notices, errors.UserMessage(err), errors.FieldOf(err))
	return err
}

// fail is surface for callers that do not hold mu
func (c *Controller) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface(err)
}

// expect checks the current step; the caller holds mu
func (c *Controller) expect(action string, steps ...Step) error {
	for _, s := range steps {
		if c.step == s {
			return nil
		}
	}
	return errors.InvalidTransition(action, c.step.String())
}

// begin claims the in-flight flag for a network operation on step; the caller holds mu
func (c *Controller) begin(ctx context.Context, operation string) (context.Context, uuid.UUID, error) {
	if c.inFlight {
		return nil, uuid.Nil, errors.InFlight(operation)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.inFlight = true
	c.token = uuid.New()
	c.cancel = cancel
	c.lastErr = nil
	return runCtx, c.token, nil
}

// end releases the operation started with token; it reports false when the
// operation was abandoned. The caller holds mu.
func (c *Controller) end(token uuid.UUID) bool {
	if c.token != token {
		return false
	}
	c.inFlight = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.token = uuid.Nil
	return true
}

// rotate abandons any running operation; the caller holds mu
func (c *Controller) rotate() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.token = uuid.Nil
	c.inFlight = false
}

// enter moves to step and creates that step's ephemeral context; the caller holds mu
func (c *Controller) enter(step Step) {
	slog.Info("Onboarding step changed", "from", c.step, "to", step, "role", c.draft.Role)
	c.step = step
	c.lastErr = nil
	if step == StepPasskey {
		c.enroller.Begin()
	}
}

// SelectRole sets the role on the role step
func (c *Controller) SelectRole(role Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("select a role", StepRole); err != nil {
		return err
	}
	if role != RoleClient && role != RoleFreelancer {
		return c.surface(errors.Validation("role", "Choose whether you are hiring or looking for work."))
	}
	if c.created && role != c.draft.Role {
		return c.surface(errors.FieldFrozen("role"))
	}
	if role == RoleClient {
		c.draft.Skills = nil
	}
	c.draft.Role = role
	c.lastErr = nil
	return nil
}

// UpdateDetails replaces the details on the details step. The email cannot
// change once the account exists.
func (c *Controller) UpdateDetails(d Details) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("update details", StepDetails); err != nil {
		return err
	}
	if c.created && normalizeEmail(d.Email) != normalizeEmail(c.draft.Details.Email) {
		return c.surface(errors.FieldFrozen("email"))
	}
	c.draft.Details = d
	c.lastErr = nil
	return nil
}

// LoadSkills fetches the skills catalog
func (c *Controller) LoadSkills(ctx context.Context) error {
	c.mu.Lock()
	if err := c.expect("load skills", StepSkills); err != nil {
		c.mu.Unlock()
		return err
	}
	runCtx, token, err := c.begin(ctx, "Loading skills")
	c.mu.Unlock()
	if err != nil {
		return err
	}

	skills, err := c.remote.ListSkills(runCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.end(token) {
		return errors.StaleResponse("Loading skills")
	}
	if err != nil {
		slog.Error("Failed to list skills", "err", err)
		return c.surface(errors.Submission(err, "Skills could not be loaded. You can still add your own."))
	}
	c.catalog = skills
	return nil
}

func (c *Controller) catalogSkill(name string) (api.Skill, bool) {
	for _, s := range c.catalog {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return api.Skill{}, false
}

// SelectSkill adds a catalog skill to the selection
func (c *Controller) SelectSkill(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("select a skill", StepSkills); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	skill, ok := c.catalogSkill(name)
	if !ok {
		return c.surface(errors.Validation("skills", "Unknown skill. Add it as your own skill instead."))
	}
	if !c.draft.HasSkill(name) {
		c.draft.Skills = append(c.draft.Skills, Skill{ID: skill.ID, Name: skill.Name, Category: skill.Category})
	}
	c.lastErr = nil
	return nil
}

// DeselectSkill removes a skill from the selection
func (c *Controller) DeselectSkill(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("deselect a skill", StepSkills); err != nil {
		return err
	}
	if i := c.draft.skillIndex(strings.TrimSpace(name)); i >= 0 {
		c.draft.Skills = append(c.draft.Skills[:i], c.draft.Skills[i+1:]...)
	}
	c.lastErr = nil
	return nil
}

// AddCustomSkill selects a skill typed by the user. A name found in the
// catalog selects the catalog skill. Otherwise the skill is kept locally as
// custom and offered to the backend; a failure there is only logged.
func (c *Controller) AddCustomSkill(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)

	c.mu.Lock()
	if err := c.expect("add a skill", StepSkills); err != nil {
		c.mu.Unlock()
		return err
	}
	if name == "" {
		err := c.surface(errors.Validation("skills", "Enter a skill name."))
		c.mu.Unlock()
		return err
	}
	if c.draft.HasSkill(name) {
		c.lastErr = nil
		c.mu.Unlock()
		return nil
	}
	if skill, ok := c.catalogSkill(name); ok {
		c.draft.Skills = append(c.draft.Skills, Skill{ID: skill.ID, Name: skill.Name, Category: skill.Category})
		c.lastErr = nil
		c.mu.Unlock()
		return nil
	}
	runCtx, token, err := c.begin(ctx, "Adding the skill")
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.draft.Skills = append(c.draft.Skills, Skill{Name: name, Custom: true})
	c.mu.Unlock()

	resp, err := c.remote.AddSkill(runCtx, name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.end(token) {
		return nil
	}
	if err != nil {
		slog.Warn("Custom skill kept locally", "skill", name, "err", err)
		return nil
	}
	if i := c.draft.skillIndex(name); i >= 0 && resp != nil {
		c.draft.Skills[i].ID = resp.ID
	}
	return nil
}

// Advance validates the current step and moves to the next one. On details
// it creates the account (once) and sends the first code; a failed send
// leaves the flow on verification with the error recorded.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	switch c.step {
	case StepRole:
		defer c.mu.Unlock()
		if c.draft.Role == "" {
			return c.surface(errors.Validation("role", "Choose whether you are hiring or looking for work."))
		}
		c.enter(StepDetails)
		return nil

	case StepDetails:
		return c.submitDetails(ctx)

	case StepVerification:
		defer c.mu.Unlock()
		if c.inFlight {
			return errors.InFlight("Verifying the code")
		}
		if c.session == nil {
			return c.surface(errors.Validation("code", "Enter the code from your email."))
		}
		next, _ := c.step.Next(c.draft.Role)
		c.enter(next)
		return nil

	case StepSkills:
		defer c.mu.Unlock()
		if c.inFlight {
			return errors.InFlight("Adding the skill")
		}
		c.enter(StepPasskey)
		return nil

	case StepPasskey:
		c.mu.Unlock()
		if c.enroller.State().Phase != passkey.PhaseSucceeded {
			return c.fail(errors.New(errors.ErrCodeInvalidTransition, "Add a passkey or skip this step."))
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.step != StepPasskey {
			return errors.StaleResponse("Passkey enrollment")
		}
		c.enter(StepComplete)
		return nil

	default:
		defer c.mu.Unlock()
		return errors.Terminal()
	}
}

// submitDetails runs the details step submission; it is entered with mu held
func (c *Controller) submitDetails(ctx context.Context) error {
	if err := c.draft.Details.Validate(); err != nil {
		defer c.mu.Unlock()
		return c.surface(err)
	}
	email := normalizeEmail(c.draft.Details.Email)

	if !c.created {
		d := c.draft.Details
		req := api.CreateAccountRequest{
			FirstName: strings.TrimSpace(d.FirstName),
			LastName:  strings.TrimSpace(d.LastName),
			Email:     email,
			Password:  d.Password,
			Role:      string(c.draft.Role),
			Location:  strings.TrimSpace(d.Location),
			Phone:     strings.TrimSpace(d.Phone),
		}
		runCtx, token, err := c.begin(ctx, "Creating your account")
		c.mu.Unlock()
		if err != nil {
			return err
		}

		resp, err := c.remote.CreateAccount(runCtx, req)

		c.mu.Lock()
		if !c.end(token) {
			c.abandonedEmail = email
			c.mu.Unlock()
			return errors.StaleResponse("Creating your account")
		}
		switch {
		case err == nil:
			c.accountID = resp.ID
			slog.Info("Account created", "account_id", resp.ID, "role", c.draft.Role)
		case errors.IsCode(err, errors.ErrCodeConflict) && c.abandonedEmail == email:
			// The abandoned request created this account; the code exchange is keyed by email
			slog.Info("Account from an abandoned submission accepted", "email", email)
		default:
			defer c.mu.Unlock()
			slog.Warn("Account creation failed", "email", email, "code", errors.GetCode(err), "err", err)
			return c.surface(classifySubmission(err))
		}
		c.created = true
		c.abandonedEmail = ""
	}

	c.enter(StepVerification)
	verified := c.session != nil
	c.mu.Unlock()

	if verified {
		return nil
	}
	c.verifier.Begin(email)
	if err := c.sendFirstCode(ctx, email); err != nil {
		slog.Warn("First code was not sent", "email", email, "err", err)
	}
	return nil
}

func (c *Controller) sendFirstCode(ctx context.Context, email string) error {
	c.mu.Lock()
	runCtx, token, err := c.begin(ctx, "Sending the code")
	c.mu.Unlock()
	if err != nil {
		return err
	}

	err = c.verifier.Send(runCtx, email)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.end(token) {
		return errors.StaleResponse("Sending the code")
	}
	return c.surface(err)
}

// classifySubmission maps an account creation failure to the error shown on the details step
func classifySubmission(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeConflict:
		return errors.Wrap(err, errors.ErrCodeConflict, "An account with this email already exists. Sign in or use a different email.").WithField("email")
	case errors.ErrCodeValidationFailed, errors.ErrCodeRateLimitExceeded:
		return err
	}
	return errors.Submission(err, "We could not create your account. Please try again.")
}

// SubmitCode verifies the emailed code. Success stores the session and
// moves past verification.
func (c *Controller) SubmitCode(ctx context.Context, code string) error {
	c.mu.Lock()
	if err := c.expect("submit a code", StepVerification); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.session != nil {
		c.mu.Unlock()
		return c.Advance(ctx)
	}
	email := normalizeEmail(c.draft.Details.Email)
	runCtx, token, err := c.begin(ctx, "Verifying the code")
	c.mu.Unlock()
	if err != nil {
		return err
	}

	session, err := c.verifier.Verify(runCtx, email, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.end(token)
	if err == nil {
		// the session is already persisted, so keep the reference even when the step was left
		c.session = session
	}
	if !current {
		return errors.StaleResponse("Verifying the code")
	}
	if err != nil {
		return c.surface(err)
	}
	next, _ := c.step.Next(c.draft.Role)
	c.enter(next)
	return nil
}

// ResendCode asks for a new code. It is rate limited like the first send.
func (c *Controller) ResendCode(ctx context.Context) error {
	c.mu.Lock()
	if err := c.expect("resend the code", StepVerification); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.session != nil {
		c.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidTransition, "Your email is already verified.")
	}
	email := normalizeEmail(c.draft.Details.Email)
	c.verifier.Begin(email)
	runCtx, token, err := c.begin(ctx, "Resending the code")
	c.mu.Unlock()
	if err != nil {
		return err
	}

	err = c.verifier.Resend(runCtx, email)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.end(token) {
		return errors.StaleResponse("Resending the code")
	}
	return c.surface(err)
}

// EnrollPasskey runs one enrollment attempt. Success keeps the flow on the
// passkey step; Advance then completes it.
func (c *Controller) EnrollPasskey(ctx context.Context, label string) error {
	c.mu.Lock()
	if err := c.expect("add a passkey", StepPasskey); err != nil {
		c.mu.Unlock()
		return err
	}
	runCtx, token, err := c.begin(ctx, "Passkey enrollment")
	c.mu.Unlock()
	if err != nil {
		return err
	}

	err = c.enroller.Enroll(runCtx, label)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.end(token) {
		return errors.StaleResponse("Passkey enrollment")
	}
	return c.surface(err)
}

// Skip leaves an optional step for the next one, abandoning anything in flight
func (c *Controller) Skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("skip", StepSkills, StepPasskey); err != nil {
		return err
	}
	c.rotate()
	if c.step == StepPasskey {
		c.enroller.Skip()
	}
	next, _ := c.step.Next(c.draft.Role)
	slog.Info("Onboarding step skipped", "step", c.step)
	c.enter(next)
	return nil
}

// Retreat returns to the previous step for the role. Draft fields are kept;
// the code challenge and the enrollment context of the step left are
// discarded and any request in flight is abandoned.
func (c *Controller) Retreat() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	back, ok := c.step.Back(c.draft.Role)
	if !ok {
		return errors.InvalidTransition("go back", c.step.String())
	}
	c.rotate()
	switch c.step {
	case StepVerification:
		c.verifier.Discard()
	case StepPasskey:
		c.enroller.Skip()
	}
	c.enter(back)
	return nil
}

// Complete returns where to land after onboarding
func (c *Controller) Complete() (Destination, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("complete", StepComplete); err != nil {
		return "", err
	}
	destination := DestinationProjectBrowse
	if c.draft.Role == RoleFreelancer {
		destination = DestinationFreelancerDashboard
	}
	slog.Info("Onboarding complete", "account_id", c.accountID, "destination", destination)
	return destination, nil
}
