package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TransactionLogName is the per-user append-only log file.
	TransactionLogName = "transaction_log.txt"

	dateTimeLayout    = "2006-01-02 15:04:05"
	receiptTimeLayout = "2006-01-02_15-04-05"
	maxReceiptSuffix  = 1000
)

// FileSink writes a per-user transaction log line and a receipt file for
// every event, under <dir>/<username>/.
type FileSink struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileSink creates a FileSink rooted at dir.
func NewFileSink(dir string, logger *zap.Logger) *FileSink {
	return &FileSink{
		dir:    dir,
		logger: logger,
	}
}

// Record implements Sink.
func (s *FileSink) Record(_ context.Context, ev Event) error {
	if ev.Username == "" {
		return fmt.Errorf("audit event %s has no username", ev.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userDir := filepath.Join(s.dir, safeName(ev.Username))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return fmt.Errorf("failed to create receipt directory: %w", err)
	}

	logErr := s.appendLog(userDir, ev)
	path, receiptErr := s.writeReceipt(userDir, ev)
	if receiptErr == nil {
		s.logger.Debug("Receipt generated",
			zap.String("kind", string(ev.Kind)),
			zap.String("username", ev.Username),
			zap.String("path", path),
		)
	}

	return errors.Join(logErr, receiptErr)
}

// appendLog appends "datetime|KIND|username|amount|details" to the user log.
func (s *FileSink) appendLog(userDir string, ev Event) error {
	f, err := os.OpenFile(filepath.Join(userDir, TransactionLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transaction log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s|%s|%s|%s|%s\n",
		ev.Time.Format(dateTimeLayout),
		ev.Kind,
		ev.Username,
		ev.Amount.StringFixed(2),
		oneLine(ev.Details),
	)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write transaction log: %w", err)
	}
	return nil
}

// writeReceipt creates <KIND>_<timestamp>.txt, adding a numeric suffix when
// a receipt for the same kind already exists within the same second.
func (s *FileSink) writeReceipt(userDir string, ev Event) (string, error) {
	base := fmt.Sprintf("%s_%s", ev.Kind, ev.Time.Format(receiptTimeLayout))

	var (
		f    *os.File
		path string
		err  error
	)
	for i := 0; i < maxReceiptSuffix; i++ {
		name := base + ".txt"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.txt", base, i)
		}
		path = filepath.Join(userDir, name)
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil || !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to create receipt: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatReceipt(uuid.NewString(), ev)); err != nil {
		return "", fmt.Errorf("failed to write receipt: %w", err)
	}
	return path, nil
}

// FormatReceipt renders the human-readable receipt for ev.
func FormatReceipt(receiptID string, ev Event) string {
	var b strings.Builder
	b.WriteString("=== TIME-LOCKED SAVINGS SYSTEM RECEIPT ===\n")
	fmt.Fprintf(&b, "Receipt ID: %s\n", receiptID)
	fmt.Fprintf(&b, "Date & Time: %s\n", ev.Time.Format(dateTimeLayout))
	fmt.Fprintf(&b, "Transaction Type: %s\n", ev.Kind)
	fmt.Fprintf(&b, "Username: %s\n", ev.Username)
	if ev.HasLockBox() {
		fmt.Fprintf(&b, "Lock Box ID: %d\n", ev.LockBoxID)
	}
	if ev.HasAmount() {
		fmt.Fprintf(&b, "Amount: $%s\n", ev.Amount.StringFixed(2))
	}
	if ev.Details != "" {
		fmt.Fprintf(&b, "Details: %s\n", ev.Details)
	}
	b.WriteString("=======================================\n")
	b.WriteString("Thank you for using our Time-Locked Savings System!\n")
	return b.String()
}

// safeName keeps usernames from escaping the receipts directory.
func safeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(name)
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
