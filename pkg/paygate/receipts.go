package paygate

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReceiptStore keeps a ledger of accepted payments.
type ReceiptStore interface {
	RecordReceipt(receipt Receipt) error
	Report(filter ReceiptFilter) (*ReceiptReport, error)
}

// Receipt records one accepted payment.
type Receipt struct {
	ID               string    `json:"id"`
	AcceptedAt       time.Time `json:"acceptedAt"`
	Method           string    `json:"method"`
	Path             string    `json:"path"`
	TxID             string    `json:"txid"`
	DerivationPrefix string    `json:"derivationPrefix"`
	SatoshisRequired uint64    `json:"satoshisRequired"`
	SatoshisPaid     uint64    `json:"satoshisPaid"`
	IdentityKey      string    `json:"identityKey,omitempty"`
	Internalized     bool      `json:"internalized"`
}

// ReceiptFilter for querying receipts
type ReceiptFilter struct {
	Since       *time.Time `json:"since,omitempty"`
	Until       *time.Time `json:"until,omitempty"`
	Path        string     `json:"path,omitempty"`
	IdentityKey string     `json:"identityKey,omitempty"`
	// Limit caps the receipts listed in the report, most recent first.
	Limit int `json:"limit,omitempty"`
}

// ReceiptReport aggregates receipts matching a filter.
type ReceiptReport struct {
	TotalPayments int64       `json:"totalPayments"`
	TotalSatoshis uint64      `json:"totalSatoshis"`
	Overpaid      uint64      `json:"overpaidSatoshis"`
	ByPath        []PathStats `json:"byPath"`
	Receipts      []Receipt   `json:"receipts"`
}

// PathStats contains per-path totals
type PathStats struct {
	Path          string  `json:"path"`
	TotalPayments int64   `json:"totalPayments"`
	TotalSatoshis uint64  `json:"totalSatoshis"`
	AvgSatoshis   float64 `json:"avgSatoshis"`
}

const defaultReportLimit = 100

// NewReceipt builds a receipt for an accepted verification.
func NewReceipt(r Request, v *Verification) Receipt {
	return Receipt{
		ID:               uuid.NewString(),
		AcceptedAt:       time.Now().UTC(),
		Method:           r.Method,
		Path:             r.Path,
		TxID:             v.TxID,
		DerivationPrefix: v.DerivationPrefix,
		SatoshisRequired: r.Price,
		SatoshisPaid:     v.SatoshisPaid,
		IdentityKey:      r.IdentityKey,
		Internalized:     v.Internalized,
	}
}

// InMemoryReceiptStore is a bounded in-memory ReceiptStore.
type InMemoryReceiptStore struct {
	mu       sync.RWMutex
	receipts []Receipt
	maxSize  int
}

// NewInMemoryReceiptStore creates a store holding at most maxSize receipts.
func NewInMemoryReceiptStore(maxSize int) *InMemoryReceiptStore {
	if maxSize <= 0 {
		maxSize = 100000
	}
	return &InMemoryReceiptStore{
		receipts: make([]Receipt, 0, 1024),
		maxSize:  maxSize,
	}
}

// RecordReceipt appends receipt, dropping the oldest at capacity.
func (s *InMemoryReceiptStore) RecordReceipt(receipt Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.receipts) >= s.maxSize {
		s.receipts = s.receipts[1:]
	}
	s.receipts = append(s.receipts, receipt)
	return nil
}

// Report aggregates the receipts matching filter.
func (s *InMemoryReceiptStore) Report(filter ReceiptFilter) (*ReceiptReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultReportLimit
	}

	report := &ReceiptReport{}
	byPath := make(map[string]*PathStats)

	for i := len(s.receipts) - 1; i >= 0; i-- {
		rc := s.receipts[i]
		if filter.Since != nil && rc.AcceptedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && rc.AcceptedAt.After(*filter.Until) {
			continue
		}
		if filter.Path != "" && rc.Path != filter.Path {
			continue
		}
		if filter.IdentityKey != "" && rc.IdentityKey != filter.IdentityKey {
			continue
		}

		report.TotalPayments++
		report.TotalSatoshis += rc.SatoshisPaid
		if rc.SatoshisPaid > rc.SatoshisRequired {
			report.Overpaid += rc.SatoshisPaid - rc.SatoshisRequired
		}

		ps, ok := byPath[rc.Path]
		if !ok {
			ps = &PathStats{Path: rc.Path}
			byPath[rc.Path] = ps
		}
		ps.TotalPayments++
		ps.TotalSatoshis += rc.SatoshisPaid

		if len(report.Receipts) < limit {
			report.Receipts = append(report.Receipts, rc)
		}
	}

	for _, ps := range byPath {
		ps.AvgSatoshis = float64(ps.TotalSatoshis) / float64(ps.TotalPayments)
		report.ByPath = append(report.ByPath, *ps)
	}
	sort.Slice(report.ByPath, func(i, j int) bool {
		if report.ByPath[i].TotalSatoshis != report.ByPath[j].TotalSatoshis {
			return report.ByPath[i].TotalSatoshis > report.ByPath[j].TotalSatoshis
		}
		return report.ByPath[i].Path < report.ByPath[j].Path
	})

	return report, nil
}

// ReceiptsHandler returns an HTTP handler reporting on store. Query
// parameters: since, until (RFC3339), path, identityKey, limit.
func ReceiptsHandler(store ReceiptStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		filter := ReceiptFilter{
			Path:        q.Get("path"),
			IdentityKey: q.Get("identityKey"),
		}
		if since := q.Get("since"); since != "" {
			if t, err := time.Parse(time.RFC3339, since); err == nil {
				filter.Since = &t
			}
		}
		if until := q.Get("until"); until != "" {
			if t, err := time.Parse(time.RFC3339, until); err == nil {
				filter.Until = &t
			}
		}
		if limit := q.Get("limit"); limit != "" {
			if n, err := strconv.Atoi(limit); err == nil {
				filter.Limit = n
			}
		}

		report, err := store.Report(filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}
}
