package usecase

import (
	"fmt"
	"sync"

	"credledger/internal/domain"
)

// Registry holds issuers and subjects in registration order.
type Registry struct {
	mu           sync.RWMutex
	issuers      map[string]domain.Issuer
	issuerOrder  []string
	subjects     map[string]domain.Subject
	subjectOrder []string
}

func NewRegistry() *Registry {
	return &Registry{
		issuers:  make(map[string]domain.Issuer),
		subjects: make(map[string]domain.Subject),
	}
}

func (r *Registry) AddIssuer(issuer domain.Issuer) error {
	if issuer.ID == "" {
		return fmt.Errorf("issuer id is required")
	}
	if len(issuer.PublicKey) == 0 {
		return fmt.Errorf("issuer %s: public key is required", issuer.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.issuers[issuer.ID]; exists {
		return fmt.Errorf("issuer %s already registered", issuer.ID)
	}
	issuer.PublicKey = append([]byte(nil), issuer.PublicKey...)
	r.issuers[issuer.ID] = issuer
	r.issuerOrder = append(r.issuerOrder, issuer.ID)
	return nil
}

func (r *Registry) AddSubject(subject domain.Subject) error {
	if subject.ID == "" {
		return fmt.Errorf("subject id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subjects[subject.ID]; exists {
		return fmt.Errorf("subject %s already registered", subject.ID)
	}
	r.subjects[subject.ID] = subject
	r.subjectOrder = append(r.subjectOrder, subject.ID)
	return nil
}

func (r *Registry) Issuer(id string) (domain.Issuer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	issuer, ok := r.issuers[id]
	if !ok {
		return domain.Issuer{}, fmt.Errorf("issuer %s: %w", id, domain.ErrNotFound)
	}
	issuer.PublicKey = append([]byte(nil), issuer.PublicKey...)
	return issuer, nil
}

func (r *Registry) Subject(id string) (domain.Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subject, ok := r.subjects[id]
	if !ok {
		return domain.Subject{}, fmt.Errorf("subject %s: %w", id, domain.ErrNotFound)
	}
	return subject, nil
}

func (r *Registry) Issuers() []domain.Issuer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Issuer, 0, len(r.issuerOrder))
	for _, id := range r.issuerOrder {
		issuer := r.issuers[id]
		issuer.PublicKey = append([]byte(nil), issuer.PublicKey...)
		out = append(out, issuer)
	}
	return out
}

func (r *Registry) Subjects() []domain.Subject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Subject, 0, len(r.subjectOrder))
	for _, id := range r.subjectOrder {
		out = append(out, r.subjects[id])
	}
	return out
}

// PublicKey implements IssuerDirectory.
func (r *Registry) PublicKey(issuerID string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	issuer, ok := r.issuers[issuerID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), issuer.PublicKey...), true
}
