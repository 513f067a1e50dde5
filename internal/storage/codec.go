package storage

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/n3tuk/time-locked-savings/internal/model"
)

const (
	// DateLayout formats registration, creation and event dates.
	DateLayout = "2006-01-02 15:04:05"

	// File names of the three record sets.
	AccountsFile   = "accounts.txt"
	LockBoxesFile  = "lockboxes.txt"
	ReleaseLogFile = "release_log.txt"

	fieldSep = "|"
)

// Encoded holds the three serialized record sets of a snapshot.
type Encoded struct {
	Accounts   []byte
	LockBoxes  []byte
	ReleaseLog []byte
}

// Encode serializes snap into its three record sets.
func Encode(snap *Snapshot) Encoded {
	var accounts, boxes, releases bytes.Buffer

	for _, a := range snap.Accounts {
		writeRecord(&accounts,
			a.Username,
			a.Password,
			a.Balance.String(),
			formatFlag(a.Active),
			formatDate(a.RegisteredAt),
		)
		for _, b := range a.LockBoxes {
			writeRecord(&boxes,
				strconv.FormatInt(b.ID, 10),
				b.Amount.String(),
				formatUnix(b.UnlockAt),
				formatFlag(b.Active),
				formatUnix(b.ReleasedAt),
				formatDate(b.CreatedAt),
				a.Username,
			)
		}
	}

	for _, ev := range snap.ReleaseLog {
		writeRecord(&releases,
			strconv.FormatInt(ev.LockBoxID, 10),
			formatUnix(ev.ReleasedAt),
			ev.Amount.String(),
			ev.Username,
			formatDate(ev.EventAt),
		)
	}

	return Encoded{
		Accounts:   accounts.Bytes(),
		LockBoxes:  boxes.Bytes(),
		ReleaseLog: releases.Bytes(),
	}
}

// Decode rebuilds a snapshot from its record sets. Malformed records and
// lock boxes without a matching owner are skipped and listed in the
// report. The next lock box id is one past the highest id seen.
func Decode(enc Encoded) (*Snapshot, *LoadReport) {
	snap := &Snapshot{}
	report := &LoadReport{}
	var maxID int64

	byName := make(map[string]*model.Account)
	eachLine(AccountsFile, enc.Accounts, report, func(fields []string) error {
		a, err := decodeAccount(fields)
		if err != nil {
			return err
		}
		if _, dup := byName[a.Username]; dup {
			return fmt.Errorf("%w: duplicate account %q", ErrPersistenceCorrupt, a.Username)
		}
		byName[a.Username] = a
		snap.Accounts = append(snap.Accounts, a)
		return nil
	})

	seenIDs := make(map[int64]bool)
	eachLine(LockBoxesFile, enc.LockBoxes, report, func(fields []string) error {
		b, err := decodeLockBox(fields)
		if err != nil {
			return err
		}
		if seenIDs[b.ID] {
			return fmt.Errorf("%w: duplicate lock box id %d", ErrPersistenceCorrupt, b.ID)
		}
		seenIDs[b.ID] = true
		if b.ID > maxID {
			maxID = b.ID
		}

		owner, ok := byName[b.Owner]
		if !ok {
			report.Orphaned++
			return nil
		}
		owner.LockBoxes = append(owner.LockBoxes, b)
		return nil
	})

	eachLine(ReleaseLogFile, enc.ReleaseLog, report, func(fields []string) error {
		ev, err := decodeReleaseEvent(fields)
		if err != nil {
			return err
		}
		if ev.LockBoxID > maxID {
			maxID = ev.LockBoxID
		}
		snap.ReleaseLog = append(snap.ReleaseLog, ev)
		return nil
	})

	for _, a := range snap.Accounts {
		sort.SliceStable(a.LockBoxes, func(i, j int) bool {
			return a.LockBoxes[i].ID < a.LockBoxes[j].ID
		})
	}

	snap.NextLockBoxID = maxID + 1
	return snap, report
}

func decodeAccount(f []string) (*model.Account, error) {
	if err := wantFields(f, 5); err != nil {
		return nil, err
	}
	if f[0] == "" {
		return nil, fmt.Errorf("%w: empty username", ErrPersistenceCorrupt)
	}
	balance, err := parseAmount(f[2])
	if err != nil {
		return nil, err
	}
	if balance.IsNegative() {
		return nil, fmt.Errorf("%w: negative balance %s", ErrPersistenceCorrupt, f[2])
	}
	active, err := parseFlag(f[3])
	if err != nil {
		return nil, err
	}
	registered, err := parseDate(f[4])
	if err != nil {
		return nil, err
	}

	return &model.Account{
		Identity: model.Identity{
			Username:     f[0],
			Password:     f[1],
			RegisteredAt: registered,
		},
		Balance: balance,
		Active:  active,
	}, nil
}

func decodeLockBox(f []string) (*model.LockBox, error) {
	if err := wantFields(f, 7); err != nil {
		return nil, err
	}
	id, err := parseID(f[0])
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(f[1])
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", ErrPersistenceCorrupt, f[1])
	}
	unlockAt, err := parseUnix(f[2])
	if err != nil {
		return nil, err
	}
	active, err := parseFlag(f[3])
	if err != nil {
		return nil, err
	}
	releasedAt, err := parseUnix(f[4])
	if err != nil {
		return nil, err
	}
	created, err := parseDate(f[5])
	if err != nil {
		return nil, err
	}

	if active && !releasedAt.IsZero() {
		return nil, fmt.Errorf("%w: active lock box %d has a release time", ErrPersistenceCorrupt, id)
	}
	if !active && (releasedAt.IsZero() || releasedAt.Before(created)) {
		return nil, fmt.Errorf("%w: released lock box %d has an invalid release time", ErrPersistenceCorrupt, id)
	}

	return &model.LockBox{
		ID:         id,
		Amount:     amount,
		UnlockAt:   unlockAt,
		CreatedAt:  created,
		Owner:      f[6],
		Active:     active,
		ReleasedAt: releasedAt,
	}, nil
}

func decodeReleaseEvent(f []string) (model.ReleaseEvent, error) {
	if err := wantFields(f, 5); err != nil {
		return model.ReleaseEvent{}, err
	}
	id, err := parseID(f[0])
	if err != nil {
		return model.ReleaseEvent{}, err
	}
	releasedAt, err := parseUnix(f[1])
	if err != nil {
		return model.ReleaseEvent{}, err
	}
	amount, err := parseAmount(f[2])
	if err != nil {
		return model.ReleaseEvent{}, err
	}
	eventAt, err := parseDate(f[4])
	if err != nil {
		return model.ReleaseEvent{}, err
	}

	return model.ReleaseEvent{
		LockBoxID:  id,
		ReleasedAt: releasedAt,
		Amount:     amount,
		Username:   f[3],
		EventAt:    eventAt,
	}, nil
}

// eachLine calls fn with the fields of every non-blank line, recording
// failures in the report.
func eachLine(file string, data []byte, report *LoadReport, fn func([]string) error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(strings.Split(line, fieldSep)); err != nil {
			report.Skipped = append(report.Skipped, &LineError{File: file, Line: lineNo, Err: err})
		}
	}
	if err := sc.Err(); err != nil {
		report.Skipped = append(report.Skipped, &LineError{
			File: file,
			Line: lineNo + 1,
			Err:  fmt.Errorf("%w: %v", ErrPersistenceCorrupt, err),
		})
	}
}

func writeRecord(buf *bytes.Buffer, fields ...string) {
	buf.WriteString(strings.Join(fields, fieldSep))
	buf.WriteByte('\n')
}

func wantFields(f []string, n int) error {
	if len(f) != n {
		return fmt.Errorf("%w: got %d fields, want %d", ErrPersistenceCorrupt, len(f), n)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrPersistenceCorrupt, s)
	}
	return id, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", ErrPersistenceCorrupt, s)
	}
	return d, nil
}

func formatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: invalid flag %q", ErrPersistenceCorrupt, s)
	}
}

func formatUnix(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func parseUnix(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", ErrPersistenceCorrupt, s)
	}
	if n == 0 {
		return time.Time{}, nil
	}
	return time.Unix(n, 0).UTC(), nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrPersistenceCorrupt, s)
	}
	return t, nil
}
