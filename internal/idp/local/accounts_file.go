package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/repository"
)

type accountsFile struct {
	Customers []fileAccount `yaml:"customers"`
	Staff     []fileAccount `yaml:"staff"`
}

type fileAccount struct {
	ID           string   `yaml:"id"`
	Username     string   `yaml:"username"`
	Email        string   `yaml:"email"`
	PasswordHash string   `yaml:"password_hash"`
	Disabled     bool     `yaml:"disabled"`
	Unconfirmed  bool     `yaml:"unconfirmed"`
	Tier         string   `yaml:"tier"`
	Role         string   `yaml:"role"`
	Groups       []string `yaml:"groups"`
	// MFASecret is the base32 TOTP secret as printed by authctl dev totp.
	MFASecret string `yaml:"mfa_secret"`
}

// LoadAccountsFile reads the seed accounts of d from a YAML file with
// customers and staff lists. It backs the local provider when no database
// is configured.
func LoadAccountsFile(path string, d domain.Domain) ([]Account, error) {
	entries, err := readAccountsFile(path, d)
	if err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(entries))
	for i, e := range entries {
		a := Account{
			ID:           e.ID,
			Username:     e.Username,
			PasswordHash: e.PasswordHash,
			Active:       !e.Disabled,
			Confirmed:    !e.Unconfirmed,
			Tier:         e.Tier,
			StaffRole:    e.Role,
			Groups:       e.Groups,
		}
		if a.ID == "" {
			a.ID = string(d) + ":" + strings.ToLower(e.Username)
		}
		if d == domain.DomainStaff && len(a.Groups) == 0 && e.Role != "" {
			a.Groups = []string{e.Role}
		}
		if e.MFASecret != "" {
			if a.MFASecret, err = DecodeTOTPSecret(e.MFASecret); err != nil {
				return nil, fmt.Errorf("%s: %s[%d]: mfa_secret: %w", path, d, i, err)
			}
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func readAccountsFile(path string, d domain.Domain) ([]fileAccount, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file accountsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	entries := file.Customers
	if d == domain.DomainStaff {
		entries = file.Staff
	}
	for i, e := range entries {
		if e.Username == "" || e.PasswordHash == "" {
			return nil, fmt.Errorf("%s: %s[%d]: username and password_hash are required", path, d, i)
		}
	}
	return entries, nil
}

// SeedCustomers upserts the customers of the accounts file by username and
// returns how many rows were written.
func SeedCustomers(ctx context.Context, path string, repo repository.CustomerRepository) (int, error) {
	entries, err := readAccountsFile(path, domain.DomainCustomer)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		c := &domain.Customer{
			Username:     e.Username,
			Email:        e.Email,
			PasswordHash: e.PasswordHash,
			Tier:         e.Tier,
			Confirmed:    !e.Unconfirmed,
			Status:       domain.CustomerStatusActive,
		}
		if c.Tier == "" {
			c.Tier = domain.TierIndividual.Name()
		}
		if e.Disabled {
			c.Status = domain.CustomerStatusSuspended
		}
		existing, err := repo.GetByUsername(ctx, e.Username)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			err = repo.Create(ctx, c)
		case err == nil:
			c.ID = existing.ID
			err = repo.Update(ctx, c)
		}
		if err != nil {
			return 0, fmt.Errorf("seed customer %s: %w", e.Username, err)
		}
	}
	return len(entries), nil
}

// SeedStaff upserts the staff members of the accounts file by username.
// The stored TOTP counter of an existing member is kept.
func SeedStaff(ctx context.Context, path string, repo repository.StaffRepository) (int, error) {
	entries, err := readAccountsFile(path, domain.DomainStaff)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		s := &domain.StaffMember{
			Username:     e.Username,
			Email:        e.Email,
			PasswordHash: e.PasswordHash,
			Role:         e.Role,
			Active:       !e.Disabled,
		}
		if s.Role == "" {
			s.Role = domain.RoleTeamMember.Name()
		}
		if e.MFASecret != "" {
			if s.MFASecret, err = DecodeTOTPSecret(e.MFASecret); err != nil {
				return 0, fmt.Errorf("seed staff %s: mfa_secret: %w", e.Username, err)
			}
		}
		existing, err := repo.GetByUsername(ctx, e.Username)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			err = repo.Create(ctx, s)
		case err == nil:
			s.ID = existing.ID
			err = repo.Update(ctx, s)
		}
		if err != nil {
			return 0, fmt.Errorf("seed staff %s: %w", e.Username, err)
		}
	}
	return len(entries), nil
}
