// Package receipt renders finalized bills and stores the result.
package receipt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/payment"
)

const (
	rule     = "========================"
	thinRule = "------------------------"
)

// Writer durably stores a receipt for a finalized bill.
type Writer interface {
	Write(ctx context.Context, rec domain.BillRecord) error
}

// Lines renders the human-readable receipt body.
func Lines(storeName string, rec domain.BillRecord) []string {
	if strings.TrimSpace(storeName) == "" {
		storeName = "TokoKasir"
	}
	lines := []string{
		storeName,
		rule,
		"Bill: " + rec.Number,
		"Date: " + rec.CreatedAt.Format("2006-01-02 15:04:05"),
		"Channel: " + string(rec.Channel),
	}
	if rec.Operator != "" {
		lines = append(lines, "Operator: "+rec.Operator)
	}
	lines = append(lines, thinRule)
	for _, l := range rec.Lines {
		lines = append(lines, fmt.Sprintf("%s %s x%d @ %s", l.ItemCode, l.ItemName, l.Qty, l.UnitPrice))
		lines = append(lines, fmt.Sprintf("  %s", l.LineTotal))
	}
	lines = append(lines,
		thinRule,
		fmt.Sprintf("Subtotal : %s", rec.Subtotal),
	)
	if rec.DiscountCode != "" {
		lines = append(lines, fmt.Sprintf("Discount : %s (%s)", rec.Discount, rec.DiscountCode))
	} else {
		lines = append(lines, fmt.Sprintf("Discount : %s", rec.Discount))
	}
	lines = append(lines,
		fmt.Sprintf("Tax      : %s", rec.Tax),
		fmt.Sprintf("Total    : %s", rec.Total),
		thinRule,
		fmt.Sprintf("Method   : %s", rec.Method),
		fmt.Sprintf("Paid     : %s", rec.Paid),
	)
	if rec.Method == string(payment.MethodCard) {
		lines = append(lines, fmt.Sprintf("Card     : %s", payment.MaskCard(rec.CardSuffix)))
	} else {
		lines = append(lines, fmt.Sprintf("Change   : %s", rec.Change))
	}
	lines = append(lines,
		rule,
		"Thank you",
		"",
	)
	return lines
}

func Render(storeName string, rec domain.BillRecord) string {
	return strings.Join(Lines(storeName, rec), "\n")
}

// ESCPOS encodes the receipt for a thermal printer: initialize, text, then
// partial cut. Cash receipts also pulse the drawer.
func ESCPOS(storeName string, rec domain.BillRecord) []byte {
	out := []byte{0x1b, 0x40}
	for _, line := range Lines(storeName, rec) {
		out = append(out, []byte(line)...)
		out = append(out, '\n')
	}
	out = append(out, 0x1d, 0x56, 0x41, 0x10)
	if rec.Method == string(payment.MethodCash) {
		out = append(out, DrawerKick()...)
	}
	return out
}

// DrawerKick is the ESC/POS pulse that opens a cash drawer on pin 2.
func DrawerKick() []byte {
	return []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
}

type FileWriter struct {
	dir       string
	storeName string
	escpos    bool
}

// NewFileWriter stores receipt-<number>.txt under dir. With escpos set it
// also writes receipt-<number>.bin for the printer bridge.
func NewFileWriter(dir string, storeName string, escpos bool) *FileWriter {
	return &FileWriter{dir: dir, storeName: storeName, escpos: escpos}
}

func (w *FileWriter) Path(number string) string {
	return filepath.Join(w.dir, fmt.Sprintf("receipt-%s.txt", number))
}

func (w *FileWriter) Write(_ context.Context, rec domain.BillRecord) error {
	if strings.TrimSpace(rec.Number) == "" || strings.ContainsAny(rec.Number, `/\`) {
		return fmt.Errorf("%w: invalid bill number %q", domain.ErrValidation, rec.Number)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("receipt dir: %w", err)
	}
	if err := writeFileAtomic(w.Path(rec.Number), []byte(Render(w.storeName, rec))); err != nil {
		return err
	}
	if w.escpos {
		bin := filepath.Join(w.dir, fmt.Sprintf("receipt-%s.bin", rec.Number))
		if err := writeFileAtomic(bin, ESCPOS(w.storeName, rec)); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".receipt-*")
	if err != nil {
		return fmt.Errorf("receipt temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write receipt: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close receipt: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store receipt: %w", err)
	}
	return nil
}

// Discard accepts every receipt without storing it.
type Discard struct{}

func (Discard) Write(context.Context, domain.BillRecord) error { return nil }
