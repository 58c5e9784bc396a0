// Package admin implements counselctl, the operator tool for provisioning
// users, maintaining the counselor roster, issuing tokens and checking the
// audit chain.
package admin

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/cryptox"
	"github.com/dmitrijs2005/counselkeeper/internal/server/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
)

const usage = `usage: counselctl [-c config.json] <command> [flags]

commands:
  keygen   [-secret]                         print a new record key, or a JWT secret
  adduser  -name NAME -role ROLE             register a user
  assign   -counselor ID -subject ID [-from YYYY-MM-DD] [-until YYYY-MM-DD]
  token    -name NAME                        issue an access token
  verify   -day YYYY-MM-DD                   verify the audit chain for a day
`

var ErrUsage = errors.New("usage error")

type Identity interface {
	RegisterUser(ctx context.Context, userName, role string) (*models.User, error)
	IssueToken(ctx context.Context, userName string) (string, error)
}

type Roster interface {
	Assign(ctx context.Context, counselorID, subjectID string, startsOn time.Time, endsOn *time.Time) error
}

type Trail interface {
	ListByDay(ctx context.Context, day time.Time) ([]*models.AuditEntry, error)
	DayBounds(ctx context.Context, day time.Time) (prev, next string, err error)
}

// Tool dispatches counselctl commands. Dependencies may be nil for commands
// that do not need them.
type Tool struct {
	Identity Identity
	Roster   Roster
	Trail    Trail
	Chain    *audit.Chain
	Out      io.Writer
	Now      func() time.Time
}

// NeedsBackend reports whether cmd has to reach the database.
func NeedsBackend(cmd string) bool {
	return cmd != "keygen" && cmd != "help" && cmd != ""
}

func (t *Tool) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(t.Out, usage)
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(t.Out, usage)
		return nil
	case "keygen":
		return t.keygen(rest)
	case "adduser":
		return t.addUser(ctx, rest)
	case "assign":
		return t.assign(ctx, rest)
	case "token":
		return t.token(ctx, rest)
	case "verify":
		return t.verify(ctx, rest)
	default:
		fmt.Fprint(t.Out, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (t *Tool) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(t.Out)
	return fs
}

func required(fields map[string]string) error {
	var missing []string
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, "-"+k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrUsage, strings.Join(missing, ", "))
	}
	return nil
}

func (t *Tool) keygen(args []string) error {
	fs := t.flagSet("keygen")
	secret := fs.Bool("secret", false, "print a hex JWT signing secret instead")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if *secret {
		s, err := common.MakeRandHexString(32)
		if err != nil {
			return err
		}
		fmt.Fprintln(t.Out, s)
		return nil
	}
	fmt.Fprintln(t.Out, cryptox.GenerateKey())
	return nil
}

func (t *Tool) addUser(ctx context.Context, args []string) error {
	fs := t.flagSet("adduser")
	name := fs.String("name", "", "user name")
	role := fs.String("role", models.RoleCounselor, "counselor, admin, teacher or student")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := required(map[string]string{"name": *name}); err != nil {
		return err
	}

	u, err := t.Identity.RegisterUser(ctx, *name, *role)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.Out, "%s\t%s\t%s\n", u.ID, u.UserName, u.Role)
	return nil
}

func (t *Tool) assign(ctx context.Context, args []string) error {
	fs := t.flagSet("assign")
	counselor := fs.String("counselor", "", "counselor user id")
	subject := fs.String("subject", "", "subject (student) id")
	from := fs.String("from", "", "first day, default today")
	until := fs.String("until", "", "last day, default open-ended")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := required(map[string]string{"counselor": *counselor, "subject": *subject}); err != nil {
		return err
	}

	startsOn := t.now()
	if *from != "" {
		d, err := parseDay(*from)
		if err != nil {
			return err
		}
		startsOn = d
	}
	var endsOn *time.Time
	if *until != "" {
		d, err := parseDay(*until)
		if err != nil {
			return err
		}
		endsOn = &d
	}

	if err := t.Roster.Assign(ctx, *counselor, *subject, startsOn, endsOn); err != nil {
		return err
	}
	fmt.Fprintf(t.Out, "assigned %s to %s from %s\n", *counselor, *subject, startsOn.Format(time.DateOnly))
	return nil
}

func (t *Tool) token(ctx context.Context, args []string) error {
	fs := t.flagSet("token")
	name := fs.String("name", "", "user name")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := required(map[string]string{"name": *name}); err != nil {
		return err
	}

	tok, err := t.Identity.IssueToken(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.Out, tok)
	return nil
}

func (t *Tool) verify(ctx context.Context, args []string) error {
	fs := t.flagSet("verify")
	dayFlag := fs.String("day", "", "day to verify, default today")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	day := t.now()
	if *dayFlag != "" {
		d, err := parseDay(*dayFlag)
		if err != nil {
			return err
		}
		day = d
	}

	entries, err := t.Trail.ListByDay(ctx, day)
	if err != nil {
		return err
	}
	prev, next, err := t.Trail.DayBounds(ctx, day)
	if err != nil {
		return err
	}
	if err := t.Chain.VerifyFrom(prev, entries); err != nil {
		return err
	}

	last := prev
	if n := len(entries); n > 0 {
		last = entries[n-1].HashCurr
	}
	if last != next {
		return fmt.Errorf("%w: %s does not link to the following entry", audit.ErrChainBroken, day.Format(time.DateOnly))
	}

	if len(entries) == 0 {
		fmt.Fprintf(t.Out, "%s: no entries\n", day.Format(time.DateOnly))
		return nil
	}
	fmt.Fprintf(t.Out, "%s: %d entries, chain intact\n", day.Format(time.DateOnly), len(entries))
	return nil
}

func (t *Tool) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func parseDay(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrUsage, s)
	}
	return d, nil
}
