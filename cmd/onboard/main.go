// Package main walks a new account through onboarding in the terminal.
//
// It talks to the backend at ONBOARD_API_URL, keeps the session under
// ONBOARD_SESSION_DIR and enrolls passkeys with a software authenticator.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/config"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/notification"
	"github.com/tendant/simple-onboard/pkg/onboarding"
	"github.com/tendant/simple-onboard/pkg/otp"
	"github.com/tendant/simple-onboard/pkg/passkey"
	"github.com/tendant/simple-onboard/pkg/passkey/softauthn"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

func main() {
	roleFlag := flag.String("role", "", "client or freelancer; asked when empty")
	logout := flag.Bool("logout", false, "Remove the stored session and exit")
	verbose := flag.Bool("v", false, "Log requests to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})))

	cfg, err := config.LoadClientConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	interval, err := cfg.ParseResendInterval()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := sessionstore.NewFileStore(cfg.SessionDir)
	if err != nil {
		slog.Error("Failed opening session store", "dir", cfg.SessionDir, "err", err)
		os.Exit(1)
	}
	if *logout {
		if err := sessionstore.Logout(ctx, store); err != nil {
			slog.Error("Failed removing session", "err", err)
			os.Exit(1)
		}
		fmt.Println("Signed out.")
		return
	}
	if session, err := sessionstore.CurrentSession(ctx, store); err == nil {
		fmt.Printf("Already signed in as %s. Run with -logout to start over.\n", session.Email)
		return
	}

	p := &prompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}

	broadcaster := notification.NewBroadcaster(16)
	notices, unsubscribe := broadcaster.Subscribe()
	defer unsubscribe()
	p.notices = notices

	clientOpts := []api.Option{
		api.WithTimeout(cfg.Timeout),
		api.WithSessionStore(store),
	}
	ceremonyOpts := []passkey.Option{passkey.WithNotificationChannel(broadcaster)}
	if cfg.UserAgent != "" {
		clientOpts = append(clientOpts, api.WithUserAgent(cfg.UserAgent))
		ceremonyOpts = append(ceremonyOpts, passkey.WithUserAgent(cfg.UserAgent))
	}
	client := api.NewClient(cfg.APIBaseURL, clientOpts...)

	authenticator, err := softauthn.New(cfg.Origin, softauthn.WithConfirm(p.confirmCredential))
	if err != nil {
		slog.Error("Failed creating authenticator", "origin", cfg.Origin, "err", err)
		os.Exit(1)
	}

	verifier := otp.NewManager(client, sessionstore.NewBootstrapper(store),
		otp.WithMinInterval(interval),
		otp.WithNotificationChannel(broadcaster),
	)
	ceremony := passkey.NewCeremony(authenticator, client, store, ceremonyOpts...)
	controller := onboarding.NewController(client, verifier, ceremony, onboarding.WithNotificationChannel(broadcaster))

	destination, err := run(ctx, controller, p, *roleFlag)
	if err != nil {
		if err != io.EOF {
			slog.Error("Onboarding stopped", "err", err)
		}
		os.Exit(1)
	}
	fmt.Printf("All set. Taking you to %s.\n", destination)
}

type prompter struct {
	in      *bufio.Reader
	out     io.Writer
	notices <-chan notification.Notice
}

// flush prints the notices published since the last prompt
func (p *prompter) flush() {
	for {
		select {
		case n, ok := <-p.notices:
			if !ok {
				return
			}
			switch n.Level {
			case notification.LevelError:
				fmt.Fprintf(p.out, "  ! %s\n", n.Message)
			case notification.LevelSuccess:
				fmt.Fprintf(p.out, "  ✓ %s\n", n.Message)
			default:
				fmt.Fprintf(p.out, "  %s\n", n.Message)
			}
		default:
			return
		}
	}
}

func (p *prompter) ask(label string) (string, error) {
	p.flush()
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *prompter) yes(label string) (bool, error) {
	answer, err := p.ask(label + " [Y/n]")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "" || answer == "y" || answer == "yes", nil
}

func (p *prompter) confirmCredential(ctx context.Context, rpID, userName string) (bool, error) {
	return p.yes(fmt.Sprintf("Create a passkey for %s on %s?", userName, rpID))
}

// run drives the controller until the flow completes
func run(ctx context.Context, c *onboarding.Controller, p *prompter, role string) (onboarding.Destination, error) {
	// catalog loads once per visit to the skills step; r reloads it
	skillsTried := false
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		state := c.State()
		progress := c.Progress()
		if state.Step != onboarding.StepComplete {
			fmt.Fprintf(p.out, "\n[%d/%d] %s\n", progress.Index, progress.Total, state.Step)
		}

		if state.Step != onboarding.StepSkills {
			skillsTried = false
		}

		var err error
		switch state.Step {
		case onboarding.StepRole:
			err = roleStep(ctx, c, p, role)
			role = ""
		case onboarding.StepDetails:
			err = detailsStep(ctx, c, p)
		case onboarding.StepVerification:
			err = verificationStep(ctx, c, p)
		case onboarding.StepSkills:
			err = skillsStep(ctx, c, p, !skillsTried)
			skillsTried = true
		case onboarding.StepPasskey:
			err = passkeyStep(ctx, c, p)
		case onboarding.StepComplete:
			p.flush()
			return c.Complete()
		}
		if err == io.EOF || ctx.Err() != nil {
			return "", err
		}
		if err != nil {
			slog.Debug("Step failed", "step", state.Step, "code", errors.GetCode(err), "err", err)
		}
	}
}

func roleStep(ctx context.Context, c *onboarding.Controller, p *prompter, given string) error {
	answer := given
	if answer == "" {
		var err error
		if answer, err = p.ask("Are you hiring (client) or looking for work (freelancer)?"); err != nil {
			return err
		}
	}
	role, ok := onboarding.ParseRole(answer)
	if !ok {
		fmt.Fprintln(p.out, "  ! Answer client or freelancer.")
		return nil
	}
	if err := c.SelectRole(role); err != nil {
		return err
	}
	return c.Advance(ctx)
}

func detailsStep(ctx context.Context, c *onboarding.Controller, p *prompter) error {
	d := c.Draft().Details
	fields := []struct {
		label string
		dst   *string
	}{
		{"First name", &d.FirstName},
		{"Last name", &d.LastName},
		{"Email", &d.Email},
		{"Password", &d.Password},
		{"Confirm password", &d.ConfirmPassword},
		{"Location", &d.Location},
		{"Phone (optional)", &d.Phone},
	}
	for _, f := range fields {
		label := f.label
		if *f.dst != "" && f.dst != &d.Password && f.dst != &d.ConfirmPassword {
			label = fmt.Sprintf("%s [%s]", f.label, *f.dst)
		}
		answer, err := p.ask(label)
		if err != nil {
			return err
		}
		if answer != "" {
			*f.dst = answer
		}
	}
	if err := c.UpdateDetails(d); err != nil {
		return err
	}
	return c.Advance(ctx)
}

func verificationStep(ctx context.Context, c *onboarding.Controller, p *prompter) error {
	answer, err := p.ask("Code from your email (r to resend, b to go back)")
	if err != nil {
		return err
	}
	switch strings.ToLower(answer) {
	case "r":
		return c.ResendCode(ctx)
	case "b":
		return c.Retreat()
	case "":
		return c.Advance(ctx)
	}
	return c.SubmitCode(ctx, answer)
}

func skillsStep(ctx context.Context, c *onboarding.Controller, p *prompter, load bool) error {
	if load && len(c.Catalog()) == 0 {
		if err := loadSkills(ctx, c, p); err != nil && ctx.Err() != nil {
			return err
		}
	}
	if selected := c.Draft().Skills; len(selected) > 0 {
		names := make([]string, len(selected))
		for i, s := range selected {
			names[i] = s.Name
		}
		fmt.Fprintf(p.out, "  selected: %s\n", strings.Join(names, ", "))
	}

	answer, err := p.ask("Skill to add, -name to remove, r to reload, s to skip, b to go back, empty to continue")
	if err != nil {
		return err
	}
	switch {
	case strings.EqualFold(answer, "r"):
		return loadSkills(ctx, c, p)
	case answer == "":
		return c.Advance(ctx)
	case strings.EqualFold(answer, "s"):
		return c.Skip()
	case strings.EqualFold(answer, "b"):
		return c.Retreat()
	case strings.HasPrefix(answer, "-"):
		return c.DeselectSkill(strings.TrimPrefix(answer, "-"))
	}
	return c.AddCustomSkill(ctx, answer)
}

// loadSkills fetches and prints the catalog; a failure is left for the next prompt to show
func loadSkills(ctx context.Context, c *onboarding.Controller, p *prompter) error {
	if err := c.LoadSkills(ctx); err != nil {
		return err
	}
	for _, s := range c.Catalog() {
		fmt.Fprintf(p.out, "  %-20s %s\n", s.Name, s.Category)
	}
	return nil
}

func passkeyStep(ctx context.Context, c *onboarding.Controller, p *prompter) error {
	if c.State().Enrollment == passkey.PhaseSucceeded {
		return c.Advance(ctx)
	}
	add, err := p.yes("Add a passkey so you can sign in without a password?")
	if err != nil {
		return err
	}
	if !add {
		return c.Skip()
	}
	label, err := p.ask("Name for this device (empty to detect)")
	if err != nil {
		return err
	}
	if err := c.EnrollPasskey(ctx, label); err != nil {
		return err
	}
	return c.Advance(ctx)
}
