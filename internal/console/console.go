// Package console implements the interactive, line-oriented menus of the
// savings service over an io.Reader and io.Writer.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/clock"
	"github.com/n3tuk/time-locked-savings/internal/ledger"
)

const dateLayout = "2006-01-02 15:04:05"

// Console drives a single operator session.
type Console struct {
	ledger *ledger.Ledger
	clock  clock.Clock
	logger *zap.Logger
	in     *bufio.Scanner
	out    io.Writer
}

// New creates a console reading commands from in and writing to out.
func New(l *ledger.Ledger, clk clock.Clock, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		ledger: l,
		clock:  clk,
		logger: logger,
		in:     bufio.NewScanner(in),
		out:    out,
	}
}

// Run shows the main menu until the operator exits or the input ends.
// Reaching the end of the input is a normal exit.
func (c *Console) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.println()
		c.println("=== Time-Locked Savings ===")
		c.println("1. Register")
		c.println("2. User login")
		c.println("3. Admin login")
		c.println("4. Exit")

		choice, err := c.prompt("Choice: ")
		if err != nil {
			return ignoreEOF(err)
		}

		switch choice {
		case "1":
			err = c.register(ctx)
		case "2":
			err = c.userLogin(ctx)
		case "3":
			err = c.adminLogin(ctx)
		case "4":
			c.println("Goodbye.")
			return nil
		default:
			c.println("Invalid choice.")
		}
		if err != nil {
			return ignoreEOF(err)
		}
	}
}

func (c *Console) register(ctx context.Context) error {
	username, err := c.prompt("Username: ")
	if err != nil {
		return err
	}
	password, err := c.prompt("Password: ")
	if err != nil {
		return err
	}
	initial, ok, err := c.promptAmount("Initial balance: ")
	if err != nil || !ok {
		return err
	}

	acct, err := c.ledger.Register(ctx, username, password, initial)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.printf("Registered %s with balance %s.\n", acct.Username, money(acct.Balance))
	return nil
}

// prompt writes label and reads one trimmed line. It returns io.EOF when
// the input is exhausted.
func (c *Console) prompt(label string) (string, error) {
	c.printf("%s", label)
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return "", io.EOF
	}
	return strings.TrimSpace(c.in.Text()), nil
}

// promptAmount reads a decimal amount. ok is false when the input does not
// parse; the problem has already been reported to the operator.
func (c *Console) promptAmount(label string) (amount decimal.Decimal, ok bool, err error) {
	s, err := c.prompt(label)
	if err != nil {
		return decimal.Zero, false, err
	}
	amount, err = decimal.NewFromString(strings.TrimPrefix(s, "$"))
	if err != nil {
		c.println("Invalid amount.")
		return decimal.Zero, false, nil
	}
	return amount, true, nil
}

func (c *Console) promptInt(label string) (n int64, ok bool, err error) {
	s, err := c.prompt(label)
	if err != nil {
		return 0, false, err
	}
	n, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		c.println("Invalid number.")
		return 0, false, nil
	}
	return n, true, nil
}

func (c *Console) promptYesNo(label string) (bool, error) {
	s, err := c.prompt(label + " (y/n): ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(s) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// fail reports a rejected operation to the operator.
func (c *Console) fail(err error) {
	c.logger.Debug("Operation rejected", zap.Error(err))
	c.printf("Error: %v\n", err)
}

func (c *Console) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) println(args ...any) {
	fmt.Fprintln(c.out, args...)
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(dateLayout)
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
