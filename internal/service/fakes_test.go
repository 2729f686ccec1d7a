package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kelasku/kelasku/internal/domain"
)

// In-memory repositories with the same conditional-write semantics as the
// Mongo implementations, so concurrency tests exercise the real decision
// paths without a database.

type fakeInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*domain.Invoice
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{invoices: make(map[string]*domain.Invoice)}
}

func (r *fakeInvoiceRepo) Create(ctx context.Context, invoice *domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Mirror the partial unique index: at most one open invoice per pair.
	for _, inv := range r.invoices {
		if inv.Open && inv.UserID == invoice.UserID && inv.CourseID == invoice.CourseID {
			return domain.ErrAlreadyExists
		}
	}

	invoice.ID = ulid.Make().String()
	invoice.Open = !invoice.Status.Terminal()
	invoice.CreatedAt = time.Now().UTC()
	invoice.UpdatedAt = invoice.CreatedAt
	invoice.StatusHistory = []domain.StatusChange{{Status: invoice.Status, At: invoice.CreatedAt}}
	cp := *invoice
	r.invoices[invoice.ID] = &cp
	return nil
}

func (r *fakeInvoiceRepo) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *fakeInvoiceRepo) GetByProviderRef(ctx context.Context, ref string) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.ProviderRef == ref {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeInvoiceRepo) GetOpenByUserAndCourse(ctx context.Context, userID, courseID string) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.Open && inv.UserID == userID && inv.CourseID == courseID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeInvoiceRepo) ListByUserID(ctx context.Context, userID string) ([]*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Invoice
	for _, inv := range r.invoices {
		if inv.UserID == userID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeInvoiceRepo) Transition(ctx context.Context, id string, from []domain.InvoiceStatus, to domain.InvoiceStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if !f.CanTransition(to) {
			return false, fmt.Errorf("illegal transition %s -> %s", f, to)
		}
		if inv.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	now := time.Now().UTC()
	inv.Status = to
	inv.Open = !to.Terminal()
	inv.UpdatedAt = now
	inv.StatusHistory = append(inv.StatusHistory, domain.StatusChange{Status: to, At: now})
	return true, nil
}

func (r *fakeInvoiceRepo) AttachProviderData(ctx context.Context, id string, data domain.ProviderData) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || inv.Status != domain.InvoiceStatusCreated {
		return false, nil
	}
	now := time.Now().UTC()
	inv.Status = domain.InvoiceStatusAwaitingPayment
	inv.ProviderRef = data.Ref
	inv.PaymentURL = data.PaymentURL
	inv.VANumber = data.VANumber
	inv.ExpiryDate = data.ExpiresAt
	inv.UpdatedAt = now
	inv.StatusHistory = append(inv.StatusHistory, domain.StatusChange{Status: inv.Status, At: now})
	return true, nil
}

func (r *fakeInvoiceRepo) MarkPaid(ctx context.Context, id string, data domain.PaidData) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || inv.Status != domain.InvoiceStatusAwaitingPayment {
		return false, nil
	}
	now := time.Now().UTC()
	inv.Status = domain.InvoiceStatusPaid
	inv.Open = false
	inv.ProviderPaymentID = data.ProviderPaymentID
	inv.PaidAmount = data.PaidAmount
	inv.UpdatedAt = now
	inv.StatusHistory = append(inv.StatusHistory, domain.StatusChange{Status: inv.Status, At: now})
	return true, nil
}

func (r *fakeInvoiceRepo) ListOpenExpiredBefore(ctx context.Context, t time.Time, limit int64) ([]*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Invoice
	for _, inv := range r.invoices {
		if inv.Open && !inv.ExpiryDate.IsZero() && inv.ExpiryDate.Before(t) {
			cp := *inv
			out = append(out, &cp)
		}
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

// setExpiry rewrites an invoice's payment window, for expiry tests.
func (r *fakeInvoiceRepo) setExpiry(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.invoices[id]; ok {
		inv.ExpiryDate = at
	}
}

type fakeEntitlementRepo struct {
	mu           sync.Mutex
	entitlements map[string]*domain.Entitlement // keyed by userID|courseID
	grantErrs    []error                        // consumed by Grant before it touches the store
}

func newFakeEntitlementRepo() *fakeEntitlementRepo {
	return &fakeEntitlementRepo{entitlements: make(map[string]*domain.Entitlement)}
}

func entKey(userID, courseID string) string { return userID + "|" + courseID }

func (r *fakeEntitlementRepo) Grant(ctx context.Context, ent *domain.Entitlement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.grantErrs) > 0 {
		err := r.grantErrs[0]
		r.grantErrs = r.grantErrs[1:]
		return false, err
	}
	key := entKey(ent.UserID, ent.CourseID)
	existing, ok := r.entitlements[key]
	now := time.Now().UTC()
	if !ok {
		cp := *ent
		cp.ID = ulid.Make().String()
		cp.Active = true
		cp.GrantedAt = now
		cp.CreatedAt = now
		cp.UpdatedAt = now
		r.entitlements[key] = &cp
		return true, nil
	}
	if !existing.Active {
		existing.Active = true
		existing.InvoiceID = ent.InvoiceID
		existing.Reason = ent.Reason
		existing.GrantedAt = now
		existing.RevokedAt = nil
		existing.UpdatedAt = now
	}
	// active row keeps its original provenance
	return false, nil
}

func (r *fakeEntitlementRepo) Revoke(ctx context.Context, userID, courseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.entitlements[entKey(userID, courseID)]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	existing.Active = false
	existing.RevokedAt = &now
	existing.UpdatedAt = now
	return nil
}

func (r *fakeEntitlementRepo) GetByUserAndCourse(ctx context.Context, userID, courseID string) (*domain.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entitlements[entKey(userID, courseID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ent
	return &cp, nil
}

func (r *fakeEntitlementRepo) ListActiveByUserID(ctx context.Context, userID string) ([]*domain.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Entitlement
	now := time.Now().UTC()
	for _, ent := range r.entitlements {
		if ent.UserID == userID && ent.IsActiveAt(now) {
			cp := *ent
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEntitlementRepo) HasActive(ctx context.Context, userID, courseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entitlements[entKey(userID, courseID)]
	if !ok {
		return false, nil
	}
	return ent.IsActiveAt(time.Now().UTC()), nil
}

type fakeCourseRepo struct {
	mu      sync.Mutex
	courses map[string]*domain.Course
}

func newFakeCourseRepo(courses ...*domain.Course) *fakeCourseRepo {
	r := &fakeCourseRepo{courses: make(map[string]*domain.Course)}
	for _, c := range courses {
		r.courses[c.ID] = c
	}
	return r
}

func (r *fakeCourseRepo) Create(ctx context.Context, course *domain.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if course.ID == "" {
		course.ID = ulid.Make().String()
	}
	r.courses[course.ID] = course
	return nil
}

func (r *fakeCourseRepo) GetByID(ctx context.Context, id string) (*domain.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (r *fakeCourseRepo) GetBySlug(ctx context.Context, slug string) (*domain.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.courses {
		if c.Slug == slug {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeCourseRepo) ListPublished(ctx context.Context) ([]*domain.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Course
	for _, c := range r.courses {
		if c.Published {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCourseRepo) ListAll(ctx context.Context) ([]*domain.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Course
	for _, c := range r.courses {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeCourseRepo) Update(ctx context.Context, course *domain.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.courses[course.ID]; !ok {
		return domain.ErrNotFound
	}
	r.courses[course.ID] = course
	return nil
}

func (r *fakeCourseRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.courses[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.courses, id)
	return nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*domain.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return domain.ErrAlreadyExists
		}
	}
	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeUserRepo) Update(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) GetAll(ctx context.Context) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.User
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}
