package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"credledger/internal/domain"
	"credledger/internal/infra/filestore"
	"credledger/internal/usecase"
)

func (c *cli) runBlockchain(cmd string, args []string) error {
	switch cmd {
	case "init":
		fs := newFlagSet("blockchain init", c.out)
		force := fs.Bool("force", false, "overwrite an existing ledger")
		if _, err := parseArgs(fs, args); err != nil {
			return errSilent
		}
		if err := c.store.Init(c.ctx, *force); err != nil {
			if errors.Is(err, filestore.ErrAlreadyInitialized) {
				return fmt.Errorf("%w in %s; pass --force to overwrite", err, c.store.Dir())
			}
			return err
		}
		c.out.success("Initialized new blockchain, created all the files")
		return nil
	case "display":
		ledger, err := c.openLedger()
		if err != nil {
			return err
		}
		c.out.chain(ledger.Blocks())
		return nil
	case "verify":
		fs := newFlagSet("blockchain verify", c.out)
		at := fs.String("at", "", "check validity at this date instead of now")
		pos, err := parseArgs(fs, args)
		if err != nil {
			return errSilent
		}
		if len(pos) != 1 {
			return errUsage
		}
		ledger, err := c.openLedger()
		if err != nil {
			return err
		}
		sc, err := resolveCredential(ledger, pos[0])
		if err != nil {
			return err
		}
		when := time.Now()
		if *at != "" {
			if when, err = parseDate(*at); err != nil {
				return fmt.Errorf("parse --at: %w", err)
			}
		}
		result, err := ledger.VerifyCredentialAt(sc.UUID(), when)
		c.out.verification(result)
		if err != nil {
			c.out.fail(err)
			return errSilent
		}
		return nil
	case "validate":
		ledger, err := c.openLedger()
		if err != nil {
			return err
		}
		if err := ledger.Validate(); err != nil {
			c.out.fail(fmt.Errorf("blockchain is invalid: %w", err))
			return errSilent
		}
		c.out.success(fmt.Sprintf("Blockchain is valid (%d blocks, head %s)", ledger.ChainLength(), ledger.Head().Hex()))
		return nil
	}
	return errUsage
}

func (c *cli) runIssuers(cmd string, args []string) error {
	switch cmd {
	case "add":
		if len(args) != 1 {
			return errUsage
		}
		return c.mutate(func(ledger *usecase.Ledger) error {
			issuer, err := ledger.RegisterIssuer(c.ctx, args[0])
			if err != nil {
				return err
			}
			c.out.success(fmt.Sprintf("Created new issuer %s (%s)", issuer.Name, issuer.ID))
			return nil
		})
	case "list":
		ledger, err := c.openLedger()
		if err != nil {
			return err
		}
		for i, issuer := range ledger.Issuers() {
			c.out.issuer(i, issuer)
		}
		return nil
	}
	return errUsage
}

func (c *cli) runSubjects(cmd string, args []string) error {
	switch cmd {
	case "add":
		if len(args) != 2 {
			return errUsage
		}
		return c.mutate(func(ledger *usecase.Ledger) error {
			subject, err := ledger.RegisterSubject(c.ctx, args[0], args[1])
			if err != nil {
				return err
			}
			c.out.success(fmt.Sprintf("Created new subject %s (%s)", subject.FullName(), subject.ID))
			return nil
		})
	case "list":
		ledger, err := c.openLedger()
		if err != nil {
			return err
		}
		for i, subject := range ledger.Subjects() {
			c.out.subject(i, subject)
		}
		return nil
	}
	return errUsage
}

func (c *cli) runCredentials(cmd string, args []string) error {
	switch cmd {
	case "add":
		fs := newFlagSet("credentials add", c.out)
		description := fs.String("description", "", "attribute description")
		pos, err := parseArgs(fs, args)
		if err != nil {
			return errSilent
		}
		if len(pos) != 5 && len(pos) != 6 {
			return errUsage
		}
		from, err := parseDate(pos[4])
		if err != nil {
			return fmt.Errorf("parse from: %w", err)
		}
		var to time.Time
		if len(pos) == 6 {
			if to, err = parseDate(pos[5]); err != nil {
				return fmt.Errorf("parse to: %w", err)
			}
		}
		return c.mutate(func(ledger *usecase.Ledger) error {
			issuer, err := resolveIssuer(ledger, pos[0])
			if err != nil {
				return err
			}
			subject, err := resolveSubject(ledger, pos[1])
			if err != nil {
				return err
			}
			signed, err := ledger.IssueCredential(c.ctx, usecase.IssueRequest{
				IssuerID:  issuer.ID,
				SubjectID: subject.ID,
				Attribute: domain.Attribute{Name: pos[2], Value: pos[3], Description: *description},
				ValidFrom: from,
				ValidTo:   to,
			})
			if err != nil {
				return err
			}
			c.out.success(fmt.Sprintf("Created new credential %s", signed.UUID()))
			return nil
		})
	case "list":
		ledger, err := c.openLedger()
		if err != nil {
			return err
		}
		for i, sc := range ledger.Credentials() {
			c.out.credential(i, ledger, sc)
		}
		return nil
	}
	return errUsage
}

func (c *cli) runBlock(cmd string, args []string) error {
	switch cmd {
	case "new":
		if len(args) != 1 {
			return errUsage
		}
		return c.mutate(func(ledger *usecase.Ledger) error {
			issuer, err := resolveIssuer(ledger, args[0])
			if err != nil {
				return err
			}
			if err := ledger.OpenBlock(issuer.ID); err != nil {
				return err
			}
			c.out.success(fmt.Sprintf("Created a new block signed by %s", issuer.Name))
			return nil
		})
	case "add":
		if len(args) != 1 {
			return errUsage
		}
		return c.mutate(func(ledger *usecase.Ledger) error {
			sc, err := resolveCredential(ledger, args[0])
			if err != nil {
				return err
			}
			if err := ledger.StageIssuance(sc.UUID()); err != nil {
				return err
			}
			c.out.success("Added credential to the block")
			return nil
		})
	case "revoke":
		fs := newFlagSet("block revoke", c.out)
		reason := fs.String("reason", "", "revocation reason")
		pos, err := parseArgs(fs, args)
		if err != nil {
			return errSilent
		}
		if len(pos) != 1 {
			return errUsage
		}
		return c.mutate(func(ledger *usecase.Ledger) error {
			sc, err := resolveCredential(ledger, pos[0])
			if err != nil {
				return err
			}
			if err := ledger.StageRevocation(c.ctx, sc.UUID(), *reason); err != nil {
				return err
			}
			c.out.success("Added credential to the block's revoking list")
			return nil
		})
	case "display":
		ledger, err := c.openLedger()
		if err != nil {
			return err
		}
		pending, ok := ledger.PendingBlock()
		if !ok {
			return domain.ErrNoOpenBlock
		}
		c.out.pending(ledger, pending)
		return nil
	case "finalize":
		return c.mutate(func(ledger *usecase.Ledger) error {
			block, err := ledger.FinalizeBlock(c.ctx)
			if err != nil {
				return err
			}
			c.out.success(fmt.Sprintf("Added block %d to blockchain (%s)", ledger.ChainLength()-1, block.Hash.Hex()))
			return nil
		})
	}
	return errUsage
}

// parseDate accepts YYYY-MM-DD (UTC midnight) or RFC3339.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
