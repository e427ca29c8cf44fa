package cli

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/idp/local"
)

func newDevCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Helpers for running the local identity provider",
	}
	cmd.AddCommand(newKeygenCmd(g), newHashPasswordCmd(g), newTOTPCmd(g))
	return cmd
}

func newKeygenCmd(g *globals) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write a new RSA signing key for CUSTOMER_SIGNING_KEY_PATH or STAFF_SIGNING_KEY_PATH",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			key, err := auth.GenerateSigningKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
			f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return err
			}
			if err := pem.Encode(f, block); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(g.out, "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "key file to create")
	return cmd
}

func newHashPasswordCmd(g *globals) *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash of a password read from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			password, err := g.readLine("Password: ", true)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(g.out, hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func newTOTPCmd(g *globals) *cobra.Command {
	var issuer string

	cmd := &cobra.Command{
		Use:   "totp <account>",
		Short: "Generate an authenticator secret and its enrollment URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			_, key, err := local.GenerateTOTPSecret(issuer, args[0])
			if err != nil {
				return err
			}
			enrollment := struct {
				Secret string `json:"secret"`
				URL    string `json:"otpauth_url"`
			}{key.Secret(), key.URL()}
			return g.print(enrollment, func(w io.Writer) {
				fmt.Fprintf(w, "secret: %s\nurl:    %s\n", enrollment.Secret, enrollment.URL)
			})
		},
	}
	cmd.Flags().StringVar(&issuer, "issuer", "dualauth", "issuer label shown by the authenticator app")
	return cmd
}
