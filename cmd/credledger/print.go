package main

import (
	"fmt"
	"io"
	"time"

	"credledger/internal/domain"
	"credledger/internal/usecase"

	"github.com/fatih/color"
)

type printer struct {
	stdout io.Writer
	stderr io.Writer

	ok     *color.Color
	bad    *color.Color
	warn   *color.Color
	header *color.Color
	dim    *color.Color
}

func newPrinter(stdout, stderr io.Writer) *printer {
	return &printer{
		stdout: stdout,
		stderr: stderr,
		ok:     color.New(color.FgGreen),
		bad:    color.New(color.FgRed, color.Bold),
		warn:   color.New(color.FgYellow),
		header: color.New(color.FgCyan, color.Bold),
		dim:    color.New(color.Faint),
	}
}

func (p *printer) success(msg string) {
	p.ok.Fprintln(p.stdout, msg)
}

func (p *printer) fail(err error) {
	p.bad.Fprintf(p.stderr, "error: %v\n", err)
}

func (p *printer) issuer(i int, issuer domain.Issuer) {
	fmt.Fprintf(p.stdout, "%d: %s ", i, issuer.Name)
	p.dim.Fprintf(p.stdout, "id=%s key=%s\n", issuer.ID, issuer.PublicKeyMultibase())
}

func (p *printer) subject(i int, subject domain.Subject) {
	fmt.Fprintf(p.stdout, "%d: %s ", i, subject.FullName())
	p.dim.Fprintf(p.stdout, "id=%s\n", subject.ID)
}

func (p *printer) credential(i int, ledger *usecase.Ledger, sc domain.SignedCredential) {
	fmt.Fprintf(p.stdout, "%d: ", i)
	p.record(ledger, sc)
}

func (p *printer) record(ledger *usecase.Ledger, sc domain.SignedCredential) {
	cred := sc.Credential
	issuer := cred.IssuerID
	if iss, err := ledger.Issuer(cred.IssuerID); err == nil {
		issuer = iss.Name
	}
	subject := cred.SubjectID
	if sub, err := ledger.Subject(cred.SubjectID); err == nil {
		subject = sub.FullName()
	}
	fmt.Fprintf(p.stdout, "%s=%s issued by %s to %s, %s ", cred.Attribute.Name, cred.Attribute.Value, issuer, subject, validity(cred))
	p.dim.Fprintf(p.stdout, "uuid=%s\n", cred.UUID)
	if cred.Attribute.Description != "" {
		p.dim.Fprintf(p.stdout, "    %s\n", cred.Attribute.Description)
	}
}

func (p *printer) revocation(rev domain.Revocation) {
	fmt.Fprintf(p.stdout, "  revoke %s", rev.CredentialUUID)
	if rev.Reason != "" {
		fmt.Fprintf(p.stdout, " (%s)", rev.Reason)
	}
	fmt.Fprintln(p.stdout)
}

func (p *printer) chain(blocks []domain.Block) {
	if len(blocks) == 0 {
		p.warn.Fprintln(p.stdout, "Blockchain is empty")
		return
	}
	for height, block := range blocks {
		p.header.Fprintf(p.stdout, "Block %d %s\n", height, block.Hash.Hex())
		fmt.Fprintf(p.stdout, "  previous  %s\n", block.PreviousHash.Hex())
		fmt.Fprintf(p.stdout, "  timestamp %s\n", block.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(p.stdout, "  signer    %s\n", block.SignerID)
		for _, sc := range block.Issuances {
			c := sc.Credential
			fmt.Fprintf(p.stdout, "  issue  %s %s=%s %s\n", c.UUID, c.Attribute.Name, c.Attribute.Value, validity(c))
		}
		for _, rev := range block.Revocations {
			p.revocation(rev)
		}
	}
}

func (p *printer) pending(ledger *usecase.Ledger, pending domain.PendingBlock) {
	signer := pending.SignerID
	if issuer, err := ledger.Issuer(pending.SignerID); err == nil {
		signer = issuer.Name
	}
	p.header.Fprintf(p.stdout, "Pending block signed by %s\n", signer)
	fmt.Fprintf(p.stdout, "  opened %s\n", pending.OpenedAt.Format(time.RFC3339))
	if pending.Empty() {
		p.warn.Fprintln(p.stdout, "  no records staged")
		return
	}
	for _, sc := range pending.Issuances {
		fmt.Fprint(p.stdout, "  issue  ")
		p.record(ledger, sc)
	}
	for _, rev := range pending.Revocations {
		p.revocation(rev)
	}
}

func (p *printer) verification(result domain.VerificationResult) {
	c := p.bad
	switch result.Status {
	case domain.VerificationValid:
		c = p.ok
	case domain.VerificationExpired, domain.VerificationNotFound:
		c = p.warn
	}
	fmt.Fprint(p.stdout, "Result: ")
	c.Fprintln(p.stdout, result.Status)
	if result.IssuedInBlock >= 0 {
		fmt.Fprintf(p.stdout, "  issued in block %d\n", result.IssuedInBlock)
	}
	if result.RevokedInBlock >= 0 {
		fmt.Fprintf(p.stdout, "  revoked in block %d", result.RevokedInBlock)
		if result.Reason != "" {
			fmt.Fprintf(p.stdout, ": %s", result.Reason)
		}
		fmt.Fprintln(p.stdout)
	}
}

func validity(c domain.Credential) string {
	from := c.ValidFrom.Format(time.DateOnly)
	if c.Indefinite() {
		return fmt.Sprintf("valid from %s", from)
	}
	return fmt.Sprintf("valid %s to %s", from, c.ValidTo.Format(time.DateOnly))
}
