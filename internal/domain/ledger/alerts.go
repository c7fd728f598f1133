package ledger

import (
	"context"
	"fmt"
	"time"
)

// Thresholds bound the stock and expiry alerts.
type Thresholds struct {
	Understock    int64
	Overstock     int64
	ExpiryWarning time.Duration
}

// DefaultThresholds matches the dashboard polling defaults.
var DefaultThresholds = Thresholds{
	Understock:    10,
	Overstock:     1000,
	ExpiryWarning: 30 * 24 * time.Hour,
}

type AlertType string

const (
	AlertUnderstock AlertType = "understock"
	AlertOverstock  AlertType = "overstock"
	AlertExpiring   AlertType = "expiring"
	AlertExpired    AlertType = "expired"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

type Alert struct {
	MedicineID int64     `json:"medicine_id"`
	Name       string    `json:"name"`
	Type       AlertType `json:"type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
}

// Alerts evaluates every batch against th. Destroyed batches raise nothing.
func (l *Ledger) Alerts(ctx context.Context, th Thresholds) ([]Alert, error) {
	var out []Alert
	err := l.view(ctx, "alerts", func(ctx context.Context, tx Tx) error {
		rows, err := tx.ListMedicines(ctx, 0, 0)
		if err != nil {
			return err
		}
		now := l.now()
		for _, m := range rows {
			out = append(out, evaluate(m, th, now)...)
		}
		return nil
	})
	return out, err
}

func evaluate(m *Medicine, th Thresholds, now time.Time) []Alert {
	if m.Stage.Terminal() {
		return nil
	}
	var out []Alert
	add := func(t AlertType, sev Severity, format string, args ...any) {
		out = append(out, Alert{
			MedicineID: m.ID,
			Name:       m.Name,
			Type:       t,
			Severity:   sev,
			Message:    fmt.Sprintf(format, args...),
		})
	}

	switch {
	case m.Quantity < th.Understock:
		add(AlertUnderstock, SeverityHigh, "%s has only %d units left", m.Name, m.Quantity)
	case m.Quantity > th.Overstock:
		add(AlertOverstock, SeverityMedium, "%s has %d units, above %d", m.Name, m.Quantity, th.Overstock)
	}

	if m.Expired(now) {
		add(AlertExpired, SeverityHigh, "%s expired on %s", m.Name, time.Unix(m.ExpiryDate, 0).UTC().Format(time.DateOnly))
		return out
	}
	left := time.Unix(m.ExpiryDate, 0).Sub(now)
	if left <= th.ExpiryWarning {
		add(AlertExpiring, SeverityHigh, "%s expires in %d days", m.Name, int64(left.Hours()/24))
	}
	return out
}
