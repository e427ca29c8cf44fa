package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/dualauth/internal/client"
	"github.com/spec-kit/dualauth/internal/domain"
)

type principalView struct {
	Domain         domain.Domain `json:"domain"`
	ID             string        `json:"id"`
	Username       string        `json:"username"`
	Role           string        `json:"role"`
	Permissions    []string      `json:"permissions"`
	IdleTimeout    string        `json:"idle_timeout"`
	TokenExpiresAt time.Time     `json:"token_expires_at,omitzero"`
	Remaining      string        `json:"remaining,omitempty"`
}

func newPrincipalView(p domain.Principal) principalView {
	return principalView{
		Domain:         p.Domain,
		ID:             p.ID,
		Username:       p.Username,
		Role:           p.Role.Name(),
		Permissions:    p.Permissions.Strings(),
		IdleTimeout:    p.SessionTimeout.String(),
		TokenExpiresAt: p.TokenExpiresAt,
	}
}

func (v principalView) write(w io.Writer) {
	fmt.Fprintf(w, "%s: signed in as %s (%s)\n", v.Domain, v.Username, v.Role)
	fmt.Fprintf(w, "  permissions:  %s\n", strings.Join(v.Permissions, ", "))
	fmt.Fprintf(w, "  idle timeout: %s\n", v.IdleTimeout)
	if v.Remaining != "" {
		fmt.Fprintf(w, "  remaining:    %s\n", v.Remaining)
	}
}

func newLoginCmd(g *globals) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:       "login <customer|staff>",
		Short:     "Sign in to one domain",
		Long:      "Sign in to the customer or staff domain. The other domain's session is left untouched.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.DomainCustomer), string(domain.DomainStaff)},
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDomainArg(args[0])
			if err != nil {
				return err
			}
			if username == "" {
				if username, err = g.readLine("Username: ", false); err != nil {
					return err
				}
			}
			password, err := g.readLine("Password: ", true)
			if err != nil {
				return err
			}

			c := g.newClient(0, nil)
			defer c.Close()

			var p domain.Principal
			if d == domain.DomainCustomer {
				ctx, cancel := g.context(cmd)
				p, err = c.LoginCustomer(ctx, username, password)
				cancel()
			} else {
				p, err = g.loginStaff(cmd, c, username, password)
			}
			if err != nil {
				return describe(err)
			}
			view := newPrincipalView(p)
			return g.print(view, view.write)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (prompted when empty)")
	return cmd
}

func (g *globals) loginStaff(cmd *cobra.Command, c *client.Client, username, password string) (domain.Principal, error) {
	ctx, cancel := g.context(cmd)
	challenge, err := c.LoginStaff(ctx, username, password)
	cancel()
	if err != nil {
		return domain.Principal{}, err
	}
	for challenge.Pending() {
		code, err := g.readLine(fmt.Sprintf("Authenticator code (%d attempts left): ", challenge.AttemptsRemaining), true)
		if err != nil {
			return domain.Principal{}, err
		}
		ctx, cancel := g.context(cmd)
		p, err := challenge.Verify(ctx, code)
		cancel()
		if err == nil {
			return p, nil
		}
		if kind, _ := domain.KindOf(err); kind != domain.KindMFAIncorrect || challenge.AttemptsRemaining <= 0 {
			return domain.Principal{}, err
		}
		fmt.Fprintln(g.out, "Incorrect code.")
	}
	return challenge.Verify(cmd.Context(), "")
}

// describe turns auth errors into the short message shown to the user.
func describe(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return errors.New(apiErr.Message)
	}
	kind, ok := domain.KindOf(err)
	if !ok {
		return err
	}
	switch kind {
	case domain.KindInvalidCredentials:
		return errors.New("invalid username or password")
	case domain.KindAccountUnconfirmed:
		return errors.New("account is not confirmed")
	case domain.KindMFAIncorrect, domain.KindMFAExpired:
		return errors.New("verification failed, sign in again")
	case domain.KindProviderUnavailable:
		return fmt.Errorf("auth service unavailable: %w", err)
	default:
		return errors.New("please sign in again")
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sessions of both domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := g.newClient(0, nil)
			defer c.Close()

			ctx, cancel := g.context(cmd)
			defer cancel()
			if _, err := c.Restore(ctx); err != nil && g.verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}

			views := make(map[domain.Domain]*principalView, len(domain.Domains))
			for _, d := range domain.Domains {
				s, ok := c.Session(d)
				if !ok {
					views[d] = nil
					continue
				}
				v := newPrincipalView(s.Principal)
				v.Remaining = c.Manager(d).Remaining().Round(time.Second).String()
				views[d] = &v
			}
			return g.print(views, func(w io.Writer) {
				for _, d := range domain.Domains {
					if views[d] == nil {
						fmt.Fprintf(w, "%s: signed out\n", d)
						continue
					}
					views[d].write(w)
				}
			})
		},
	}
}

func newLogoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:       "logout [customer|staff]",
		Short:     "Sign out of one domain, or both when none is given",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(domain.DomainCustomer), string(domain.DomainStaff)},
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := domain.Domains
			if len(args) == 1 {
				d, err := parseDomainArg(args[0])
				if err != nil {
					return err
				}
				targets = []domain.Domain{d}
			}

			c := g.newClient(0, nil)
			defer c.Close()
			store := client.NewSlotStore(g.statePath)
			for _, d := range targets {
				// A slot may exist without a running manager in this process.
				if slot, ok, err := store.Load(d); err == nil && ok {
					if s, err := slot.Restore(d); err == nil {
						_ = c.Manager(d).Start(s)
					}
				}
				if err := c.Logout(d); err != nil {
					return err
				}
				fmt.Fprintf(g.out, "%s: signed out\n", d)
			}
			return nil
		},
	}
}

func newWatchCmd(g *globals) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep restored sessions alive until they time out",
		Long: "Restore the persisted sessions and run the session check periodically. " +
			"Each line read from stdin counts as activity in every signed in domain.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ended := make(chan domain.Domain, len(domain.Domains))
			c := g.newClient(interval, func(d domain.Domain, reason error) {
				if reason != nil {
					fmt.Fprintf(g.out, "%s: %v\n", d, describe(reason))
				}
				ended <- d
			})
			defer c.Close()

			ctx, cancel := g.context(cmd)
			active, err := c.Restore(ctx)
			cancel()
			if len(active) == 0 {
				if err != nil {
					return err
				}
				return errors.New("no active session, run authctl login first")
			}
			for _, d := range active {
				fmt.Fprintf(g.out, "%s: watching, %s left\n", d, c.Manager(d).Remaining().Round(time.Second))
			}

			activity := make(chan struct{})
			go func() {
				for {
					if _, err := g.readLine("", false); err != nil {
						return
					}
					activity <- struct{}{}
				}
			}()

			open := len(active)
			for open > 0 {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ended:
					open--
				case <-activity:
					for _, d := range active {
						c.Touch(d)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", g.session.CheckInterval(), "session check interval")
	return cmd
}
