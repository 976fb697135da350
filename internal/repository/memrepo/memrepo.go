// Package memrepo implements the repository interfaces in memory.
//
// Transactions are serialized and roll back by restoring a snapshot, which is
// enough to exercise service logic without PostgreSQL.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Store holds every table.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users       map[int64]domain.User
	entries     []domain.LedgerEntry
	payments    map[string]domain.Payment
	withdrawals map[int64]domain.Withdrawal
	deals       map[int64]domain.Deal
	outbox      []domain.OutboxDraft
	seq         int64

	// Now is the clock used for timestamps.
	Now func() time.Time

	// BeforeCAS, if set, runs before each payment compare-and-set.
	BeforeCAS func(paymentID string)
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[int64]domain.User),
		payments:    make(map[string]domain.Payment),
		withdrawals: make(map[int64]domain.Withdrawal),
		deals:       make(map[int64]domain.Deal),
		Now:         time.Now,
	}
}

type snapshot struct {
	users       map[int64]domain.User
	entries     []domain.LedgerEntry
	payments    map[string]domain.Payment
	withdrawals map[int64]domain.Withdrawal
	deals       map[int64]domain.Deal
	outbox      []domain.OutboxDraft
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		users:       cloneMap(s.users),
		entries:     append([]domain.LedgerEntry(nil), s.entries...),
		payments:    cloneMap(s.payments),
		withdrawals: cloneMap(s.withdrawals),
		deals:       cloneMap(s.deals),
		outbox:      append([]domain.OutboxDraft(nil), s.outbox...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.entries = snap.entries
	s.payments = snap.payments
	s.withdrawals = snap.withdrawals
	s.deals = snap.deals
	s.outbox = snap.outbox
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// InTx runs fn with a nil pgx.Tx. Transactions never overlap; an error restores
// the state captured before fn ran.
func (s *Store) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Users returns the UserRepository view.
func (s *Store) Users() repository.UserRepository { return (*userRepo)(s) }

// Entries returns the LedgerEntryRepository view.
func (s *Store) Entries() repository.LedgerEntryRepository { return (*entryRepo)(s) }

// Payments returns the PaymentRepository view.
func (s *Store) Payments() repository.PaymentRepository { return (*paymentRepo)(s) }

// Withdrawals returns the WithdrawalRepository view.
func (s *Store) Withdrawals() repository.WithdrawalRepository { return (*withdrawalRepo)(s) }

// Deals returns the DealRepository view.
func (s *Store) Deals() repository.DealRepository { return (*dealRepo)(s) }

// Outbox returns the OutboxRepository view.
func (s *Store) Outbox() repository.OutboxRepository { return (*outboxRepo)(s) }

// SetBalance seeds a user with the given balance.
func (s *Store) SetBalance(userID int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.ID = userID
	u.Balance = balance
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.Now()
	}
	u.UpdatedAt = s.Now()
	s.users[userID] = u
}

// Balance returns the user's balance, zero when absent.
func (s *Store) Balance(userID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].Balance
}

// LedgerEntries returns a copy of all entries in insertion order.
func (s *Store) LedgerEntries() []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LedgerEntry(nil), s.entries...)
}

// Events returns a copy of the outbox.
func (s *Store) Events() []domain.OutboxDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxDraft(nil), s.outbox...)
}

// PutPayment stores p as-is, overwriting any existing record.
func (s *Store) PutPayment(p domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.PaymentID] = p
}

// PaymentCount returns the number of stored payments.
func (s *Store) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

// WithdrawalCount returns the number of stored withdrawals.
func (s *Store) WithdrawalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.withdrawals)
}

// DealCount returns the number of stored deals.
func (s *Store) DealCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deals)
}

func limitOrDefault(limit, def int) int {
	if limit <= 0 || limit > 100 {
		return def
	}
	return limit
}

func truncate[T any](items []T, limit int) []T {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

// --- users ---

type userRepo Store

func (r *userRepo) FindByID(_ context.Context, _ repository.DBTX, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *userRepo) EnsureExists(_ context.Context, _ repository.DBTX, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		now := r.Now()
		r.users[id] = domain.User{ID: id, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (r *userRepo) LockForUpdate(ctx context.Context, _ pgx.Tx, id int64) (*domain.User, error) {
	return r.FindByID(ctx, nil, id)
}

func (r *userRepo) AddBalance(_ context.Context, _ pgx.Tx, id int64, delta decimal.Decimal) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, errMissing("user")
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return nil, errCheckViolation
	}
	u.Balance = next
	u.UpdatedAt = r.Now()
	r.users[id] = u
	return &u, nil
}

func (r *userRepo) IncrementDealsCompleted(_ context.Context, _ repository.DBTX, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.DealsCompleted++
		r.users[id] = u
	}
	return nil
}

func (r *userRepo) Summary(_ context.Context, _ repository.DBTX) (int64, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, u := range r.users {
		total = total.Add(u.Balance)
	}
	return int64(len(r.users)), total, nil
}

// --- ledger entries ---

type entryRepo Store

func (r *entryRepo) Insert(_ context.Context, _ repository.DBTX, e *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = (*Store)(r).nextID()
	e.CreatedAt = r.Now()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *entryRepo) ListByUser(_ context.Context, _ repository.DBTX, userID int64, limit int) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return truncate(out, limitOrDefault(limit, 20)), nil
}

func (r *entryRepo) SumByUser(_ context.Context, _ repository.DBTX, userID int64) (int64, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	sum := decimal.Zero
	for _, e := range r.entries {
		if e.UserID == userID {
			n++
			sum = sum.Add(e.Delta)
		}
	}
	return n, sum, nil
}

// --- payments ---

type paymentRepo Store

func (r *paymentRepo) Create(_ context.Context, _ repository.DBTX, p *domain.Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.PaymentID]; ok {
		return false, nil
	}
	now := r.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.payments[p.PaymentID] = *p
	return true, nil
}

func (r *paymentRepo) FindByID(_ context.Context, _ repository.DBTX, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *paymentRepo) CompareAndSetStatus(_ context.Context, _ repository.DBTX, id string, expected, next domain.PaymentStatus) (bool, error) {
	if hook := r.BeforeCAS; hook != nil {
		hook(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != expected {
		return false, nil
	}
	p.Status = next
	p.UpdatedAt = r.Now()
	r.payments[id] = p
	return true, nil
}

func (r *paymentRepo) sorted(keep func(domain.Payment) bool) []domain.Payment {
	var out []domain.Payment
	for _, p := range r.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return paymentLess(out[i], out[j]) })
	return out
}

func paymentLess(a, b domain.Payment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.PaymentID < b.PaymentID
}

func (r *paymentRepo) ListNonTerminal(_ context.Context, _ repository.DBTX, after repository.PaymentCursor, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := domain.Payment{CreatedAt: after.CreatedAt, PaymentID: after.PaymentID}
	out := r.sorted(func(p domain.Payment) bool { return !p.Status.IsTerminal() && paymentLess(pos, p) })
	if limit <= 0 {
		limit = 50
	}
	return truncate(out, limit), nil
}

func (r *paymentRepo) ListByUser(_ context.Context, _ repository.DBTX, userID int64, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(p domain.Payment) bool { return p.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limitOrDefault(limit, 20)), nil
}

func (r *paymentRepo) CountByStatus(_ context.Context, _ repository.DBTX) (map[domain.PaymentStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.PaymentStatus]int64)
	for _, p := range r.payments {
		counts[p.Status]++
	}
	return counts, nil
}

func (r *paymentRepo) CountPendingBefore(_ context.Context, _ repository.DBTX, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.payments {
		if p.Status == domain.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (r *paymentRepo) ArchiveTerminalBefore(_ context.Context, _ repository.DBTX, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := r.Now()
	for id, p := range r.payments {
		if p.Status.IsTerminal() && p.ArchivedAt == nil && p.UpdatedAt.Before(cutoff) {
			p.ArchivedAt = &now
			r.payments[id] = p
			n++
		}
	}
	return n, nil
}

// --- withdrawals ---

type withdrawalRepo Store

func (r *withdrawalRepo) Create(_ context.Context, _ repository.DBTX, w *domain.Withdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[w.UserID]; !ok {
		return errForeignKey("withdrawals", w.UserID)
	}
	if w.Status == "" {
		w.Status = domain.WithdrawalStatusPending
	}
	w.ID = (*Store)(r).nextID()
	w.CreatedAt = r.Now()
	r.withdrawals[w.ID] = *w
	return nil
}

func (r *withdrawalRepo) FindByID(_ context.Context, _ repository.DBTX, id int64) (*domain.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.withdrawals[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *withdrawalRepo) LockForUpdate(ctx context.Context, _ pgx.Tx, id int64) (*domain.Withdrawal, error) {
	return r.FindByID(ctx, nil, id)
}

func (r *withdrawalRepo) UpdateStatus(_ context.Context, _ repository.DBTX, id int64, status domain.WithdrawalStatus, notes *string) (*domain.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.withdrawals[id]
	if !ok {
		return nil, errMissing("withdrawal")
	}
	now := r.Now()
	w.Status = status
	if notes != nil {
		w.AdminNotes = notes
	}
	w.ProcessedAt = &now
	r.withdrawals[id] = w
	return &w, nil
}

func (r *withdrawalRepo) list(keep func(domain.Withdrawal) bool, newestFirst bool) []domain.Withdrawal {
	var out []domain.Withdrawal
	for _, w := range r.withdrawals {
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *withdrawalRepo) ListPending(_ context.Context, _ repository.DBTX, limit int) ([]domain.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.list(func(w domain.Withdrawal) bool { return w.Status == domain.WithdrawalStatusPending }, false)
	return truncate(out, limitOrDefault(limit, 50)), nil
}

func (r *withdrawalRepo) ListByUser(_ context.Context, _ repository.DBTX, userID int64, limit int) ([]domain.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.list(func(w domain.Withdrawal) bool { return w.UserID == userID }, true)
	return truncate(out, limitOrDefault(limit, 20)), nil
}

func (r *withdrawalRepo) PendingSummary(_ context.Context, _ repository.DBTX) (int64, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	sum := decimal.Zero
	for _, w := range r.withdrawals {
		if w.Status == domain.WithdrawalStatusPending {
			n++
			sum = sum.Add(w.Amount)
		}
	}
	return n, sum, nil
}

// --- deals ---

type dealRepo Store

func (r *dealRepo) Create(_ context.Context, _ repository.DBTX, d *domain.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[d.BuyerID]; !ok {
		return errForeignKey("deals", d.BuyerID)
	}
	if d.Status == "" {
		d.Status = domain.DealStatusWaiting
	}
	now := r.Now()
	d.ID = (*Store)(r).nextID()
	d.CreatedAt, d.UpdatedAt = now, now
	r.deals[d.ID] = *d
	return nil
}

func (r *dealRepo) FindByID(_ context.Context, _ repository.DBTX, id int64) (*domain.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deals[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *dealRepo) LockForUpdate(ctx context.Context, _ pgx.Tx, id int64) (*domain.Deal, error) {
	return r.FindByID(ctx, nil, id)
}

func (r *dealRepo) Update(_ context.Context, _ repository.DBTX, id int64, upd domain.DealUpdate) (*domain.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deals[id]
	if !ok {
		return nil, errMissing("deal")
	}
	d.Status = upd.Status
	if upd.DisputeReason != nil {
		d.DisputeReason = upd.DisputeReason
	}
	if upd.AdminNotes != nil {
		d.AdminNotes = upd.AdminNotes
	}
	if upd.CompletedAt != nil {
		d.CompletedAt = upd.CompletedAt
	}
	d.UpdatedAt = r.Now()
	r.deals[id] = d
	return &d, nil
}

func (r *dealRepo) list(keep func(domain.Deal) bool, newestFirst bool) []domain.Deal {
	var out []domain.Deal
	for _, d := range r.deals {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *dealRepo) ListByBuyer(_ context.Context, _ repository.DBTX, buyerID int64, limit int) ([]domain.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.list(func(d domain.Deal) bool {
		return d.BuyerID == buyerID && d.Status != domain.DealStatusArchived
	}, true)
	return truncate(out, limitOrDefault(limit, 20)), nil
}

func (r *dealRepo) ListByStatus(_ context.Context, _ repository.DBTX, status domain.DealStatus, limit int) ([]domain.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.list(func(d domain.Deal) bool { return d.Status == status }, false)
	return truncate(out, limitOrDefault(limit, 50)), nil
}

func (r *dealRepo) CountByStatus(_ context.Context, _ repository.DBTX) (map[domain.DealStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.DealStatus]int64)
	for _, d := range r.deals {
		counts[d.Status]++
	}
	return counts, nil
}

func (r *dealRepo) ListStuck(_ context.Context, _ repository.DBTX, cutoff time.Time, limit int) ([]domain.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.list(func(d domain.Deal) bool {
		open := d.Status == domain.DealStatusWaiting || d.Status == domain.DealStatusActive
		return open && d.UpdatedAt.Before(cutoff)
	}, false)
	return truncate(out, limitOrDefault(limit, 50)), nil
}

func (r *dealRepo) ArchiveFinishedBefore(_ context.Context, _ repository.DBTX, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, d := range r.deals {
		finished := d.Status == domain.DealStatusCompleted || d.Status == domain.DealStatusCancelled
		if finished && d.UpdatedAt.Before(cutoff) {
			d.Status = domain.DealStatusArchived
			d.UpdatedAt = r.Now()
			r.deals[id] = d
			n++
		}
	}
	return n, nil
}

// --- outbox ---

type outboxRepo Store

func (r *outboxRepo) Insert(_ context.Context, _ repository.DBTX, draft domain.OutboxDraft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	draft.SeqID = (*Store)(r).nextID()
	r.outbox = append(r.outbox, draft)
	return nil
}

func (r *outboxRepo) FetchUnpublished(_ context.Context, _ repository.DBTX, limit int) ([]domain.OutboxDraft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.OutboxDraft(nil), r.outbox...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *outboxRepo) MarkPublished(_ context.Context, _ repository.DBTX, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := make(map[int64]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	kept := r.outbox[:0]
	for _, d := range r.outbox {
		if !done[d.SeqID] {
			kept = append(kept, d)
		}
	}
	r.outbox = kept
	return nil
}
