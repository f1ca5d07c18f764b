package agent

import (
	"time"

	"github.com/raaihank/browser-sentinel/pkg/privacy"
)

// AuditEntry is one filtered step in the audit log.
type AuditEntry struct {
	ID        string          `json:"id"`
	Step      int             `json:"step"`
	Timestamp time.Time       `json:"timestamp"`
	Result    *privacy.Result `json:"-"`
}

func (i *Interceptor) record(rec StepRecord, result *privacy.Result) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.audit = append(i.audit, AuditEntry{
		ID:        rec.ID,
		Step:      rec.Step,
		Timestamp: time.Now(),
		Result:    result,
	})
}

// Entries returns the audit log in insertion order.
func (i *Interceptor) Entries() []AuditEntry {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]AuditEntry(nil), i.audit...)
}

// Results returns the filter results in insertion order.
func (i *Interceptor) Results() []*privacy.Result {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*privacy.Result, len(i.audit))
	for k, e := range i.audit {
		out[k] = e.Result
	}
	return out
}

// Stats sums the redaction counts of every audited step per pattern name.
func (i *Interceptor) Stats() privacy.Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	total := privacy.Stats{}
	for _, e := range i.audit {
		total.Merge(e.Result.Stats)
	}
	return total
}

// ClearAudit empties the audit log. Configuration is untouched.
func (i *Interceptor) ClearAudit() {
	i.mu.Lock()
	i.audit = nil
	i.mu.Unlock()
}
