package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"credledger/internal/config"
	"credledger/internal/domain"
	"credledger/internal/infra/crypto"
	"credledger/internal/infra/filestore"
	"credledger/internal/infra/keys/soft"
	"credledger/internal/infra/policyopa"
	"credledger/internal/usecase"
)

// cli carries the per-invocation state shared by every subcommand.
type cli struct {
	ctx    context.Context
	store  *filestore.Store
	policy string
	out    *printer
}

func run(args []string, stdout, stderr io.Writer) int {
	name := "credledger"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	cfg := config.FromEnv()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", cfg.DataDir, "ledger data directory")
	policy := fs.String("policy", cfg.IssuancePolicyPath, "issuance policy path (rego file or directory)")
	fs.Usage = func() { usage(stderr, name) }
	if len(args) < 2 {
		usage(stderr, name)
		return 1
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) < 2 {
		usage(stderr, name)
		return 1
	}

	c := &cli{
		ctx:    context.Background(),
		store:  filestore.NewStore(*dir),
		policy: *policy,
		out:    newPrinter(stdout, stderr),
	}

	var err error
	switch rest[0] {
	case "blockchain":
		err = c.runBlockchain(rest[1], rest[2:])
	case "issuers":
		err = c.runIssuers(rest[1], rest[2:])
	case "subjects":
		err = c.runSubjects(rest[1], rest[2:])
	case "credentials":
		err = c.runCredentials(rest[1], rest[2:])
	case "block":
		err = c.runBlock(rest[1], rest[2:])
	default:
		err = errUsage
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		usage(stderr, name)
		return 1
	case errors.Is(err, errSilent):
		return 1
	default:
		c.out.fail(err)
		return 1
	}
}

var (
	errUsage = errors.New("usage")
	// errSilent ends a command whose outcome was already printed.
	errSilent = errors.New("command failed")
)

func usage(w io.Writer, name string) {
	fmt.Fprintf(w, "usage:\n")
	fmt.Fprintf(w, "  %s [--dir <path>] [--policy <path>] <group> <command> [args]\n\n", name)
	fmt.Fprintf(w, "  %s blockchain init [--force]\n", name)
	fmt.Fprintf(w, "  %s blockchain display\n", name)
	fmt.Fprintf(w, "  %s blockchain verify <credential> [--at <date>]\n", name)
	fmt.Fprintf(w, "  %s blockchain validate\n", name)
	fmt.Fprintf(w, "  %s issuers add <name>\n", name)
	fmt.Fprintf(w, "  %s issuers list\n", name)
	fmt.Fprintf(w, "  %s subjects add <name> <surname>\n", name)
	fmt.Fprintf(w, "  %s subjects list\n", name)
	fmt.Fprintf(w, "  %s credentials add <issuer> <subject> <name> <value> <from> [to] [--description <text>]\n", name)
	fmt.Fprintf(w, "  %s credentials list\n", name)
	fmt.Fprintf(w, "  %s block new <issuer>\n", name)
	fmt.Fprintf(w, "  %s block add <credential>\n", name)
	fmt.Fprintf(w, "  %s block revoke <credential> [--reason <text>]\n", name)
	fmt.Fprintf(w, "  %s block display\n", name)
	fmt.Fprintf(w, "  %s block finalize\n\n", name)
	fmt.Fprintf(w, "references accept a list index or an id; dates are YYYY-MM-DD or RFC3339\n")
}

// parseArgs parses flags that may appear anywhere among the positional
// arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func newFlagSet(name string, out *printer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out.stderr)
	return fs
}

// openLedger restores the ledger persisted in the data directory.
func (c *cli) openLedger() (*usecase.Ledger, error) {
	deps := usecase.LedgerDeps{
		Crypto: crypto.NewService(),
		Keys:   soft.NewManager(nil),
	}
	if c.policy != "" {
		engine, err := policyopa.NewEngine(c.ctx, c.policy, "issuance")
		if err != nil {
			return nil, fmt.Errorf("load issuance policy: %w", err)
		}
		deps.Policy = engine
	}
	ledger, err := usecase.NewLedger(deps)
	if err != nil {
		return nil, err
	}
	snap, err := c.store.Load(c.ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("no ledger in %s; run \"blockchain init\" first", c.store.Dir())
	}
	if err != nil {
		return nil, err
	}
	if err := ledger.Restore(c.ctx, snap); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	return ledger, nil
}

func (c *cli) saveLedger(ledger *usecase.Ledger) error {
	snap, err := ledger.Snapshot(c.ctx)
	if err != nil {
		return err
	}
	return c.store.Save(c.ctx, snap)
}

// mutate runs fn against the stored ledger and persists the result when fn
// succeeds.
func (c *cli) mutate(fn func(*usecase.Ledger) error) error {
	ledger, err := c.openLedger()
	if err != nil {
		return err
	}
	if err := fn(ledger); err != nil {
		return err
	}
	return c.saveLedger(ledger)
}

func resolveIssuer(ledger *usecase.Ledger, ref string) (domain.Issuer, error) {
	issuers := ledger.Issuers()
	if i, ok := index(ref, len(issuers)); ok {
		return issuers[i], nil
	}
	issuer, err := ledger.Issuer(ref)
	if err != nil {
		return domain.Issuer{}, fmt.Errorf("no issuer with index or id %q: %w", ref, domain.ErrNotFound)
	}
	return issuer, nil
}

func resolveSubject(ledger *usecase.Ledger, ref string) (domain.Subject, error) {
	subjects := ledger.Subjects()
	if i, ok := index(ref, len(subjects)); ok {
		return subjects[i], nil
	}
	subject, err := ledger.Subject(ref)
	if err != nil {
		return domain.Subject{}, fmt.Errorf("no subject with index or id %q: %w", ref, domain.ErrNotFound)
	}
	return subject, nil
}

func resolveCredential(ledger *usecase.Ledger, ref string) (domain.SignedCredential, error) {
	creds := ledger.Credentials()
	if i, ok := index(ref, len(creds)); ok {
		return creds[i], nil
	}
	sc, err := ledger.Credential(ref)
	if err != nil {
		return domain.SignedCredential{}, fmt.Errorf("no credential with index or id %q: %w", ref, domain.ErrNotFound)
	}
	return sc, nil
}

func index(ref string, n int) (int, bool) {
	i, err := strconv.Atoi(ref)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}
