package console

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/model"
)

func (c *Console) userLogin(ctx context.Context) error {
	username, err := c.prompt("Username: ")
	if err != nil {
		return err
	}
	password, err := c.prompt("Password: ")
	if err != nil {
		return err
	}

	acct, released, err := c.ledger.Login(ctx, username, password)
	if err != nil {
		c.fail(err)
		return nil
	}

	c.printf("Welcome, %s.\n", acct.Username)
	c.printReleases(released)

	err = c.userSession(ctx, acct.Username)
	if logoutErr := c.ledger.Logout(ctx, acct.Username); logoutErr != nil {
		c.logger.Warn("Failed to log out user", zap.String("username", acct.Username), zap.Error(logoutErr))
	}
	c.println("Logged out.")
	return err
}

func (c *Console) userSession(ctx context.Context, username string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.println()
		c.printf("--- %s ---\n", username)
		c.println("1. View balance")
		c.println("2. Deposit")
		c.println("3. Create lock box")
		c.println("4. View lock boxes")
		c.println("5. Check and release matured lock boxes")
		c.println("6. Release a lock box")
		c.println("7. Logout")

		choice, err := c.prompt("Choice: ")
		if err != nil {
			return err
		}

		switch choice {
		case "1":
			err = c.showBalance(username)
		case "2":
			err = c.deposit(ctx, username)
		case "3":
			err = c.createLockBox(ctx, username)
		case "4":
			err = c.viewLockBoxes(username)
		case "5":
			err = c.scan(ctx, username)
		case "6":
			err = c.releaseOne(ctx, username)
		case "7":
			return nil
		default:
			c.println("Invalid choice.")
		}
		if err != nil {
			return err
		}
	}
}

func (c *Console) showBalance(username string) error {
	acct, err := c.ledger.Account(username)
	if err != nil {
		c.fail(err)
		return nil
	}
	active, released := acct.CountLockBoxes()
	c.printf("Balance: %s\n", money(acct.Balance))
	c.printf("Locked:  %s in %d active lock box(es), %d released\n", money(acct.LockedTotal()), active, released)
	return nil
}

func (c *Console) deposit(ctx context.Context, username string) error {
	amount, ok, err := c.promptAmount("Amount to deposit: ")
	if err != nil || !ok {
		return err
	}
	balance, err := c.ledger.Deposit(ctx, username, amount)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.printf("Deposited %s. New balance: %s\n", money(amount), money(balance))
	return nil
}

// maxLockSeconds is the longest duration a time.Duration can hold.
const maxLockSeconds = math.MaxInt64 / int64(time.Second)

func (c *Console) createLockBox(ctx context.Context, username string) error {
	amount, ok, err := c.promptAmount("Amount to lock: ")
	if err != nil || !ok {
		return err
	}
	seconds, ok, err := c.promptInt("Lock duration in seconds: ")
	if err != nil || !ok {
		return err
	}
	if seconds > maxLockSeconds || seconds < -maxLockSeconds {
		c.println("Invalid number.")
		return nil
	}

	unlockAt := c.clock.Now().Add(time.Duration(seconds) * time.Second)
	box, err := c.ledger.CreateLockBox(ctx, username, amount, unlockAt)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.printf("Lock box #%d created: %s locked until %s.\n", box.ID, money(box.Amount), formatDate(box.UnlockAt))
	return nil
}

func (c *Console) viewLockBoxes(username string) error {
	var filter model.LockBoxFilter
	var err error
	if filter.ShowActive, err = c.promptYesNo("Show active lock boxes?"); err != nil {
		return err
	}
	if filter.ShowReleased, err = c.promptYesNo("Show released lock boxes?"); err != nil {
		return err
	}

	boxes, err := c.ledger.LockBoxes(username, filter)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.printLockBoxes(filter, boxes)
	return nil
}

func (c *Console) scan(ctx context.Context, username string) error {
	released, err := c.ledger.ScanAccount(ctx, username)
	if err != nil {
		c.fail(err)
		return nil
	}
	if len(released) == 0 {
		c.println("No lock boxes have matured.")
		return nil
	}
	c.printReleases(released)
	return nil
}

func (c *Console) releaseOne(ctx context.Context, username string) error {
	id, ok, err := c.promptInt("Lock box ID: ")
	if err != nil || !ok {
		return err
	}
	ev, err := c.ledger.ReleaseLockBox(ctx, username, id)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.printReleases([]model.ReleaseEvent{ev})
	return nil
}

func (c *Console) printReleases(released []model.ReleaseEvent) {
	for _, ev := range released {
		c.printf("Released lock box #%d: %s returned to balance.\n", ev.LockBoxID, money(ev.Amount))
	}
}

// printLockBoxes lists boxes under a heading naming the filter. An empty
// selection, including one where the filter shows neither state, prints
// "No lock boxes found.".
func (c *Console) printLockBoxes(filter model.LockBoxFilter, boxes []model.LockBox) {
	if len(boxes) == 0 {
		c.println("No lock boxes found.")
		return
	}

	c.printf("Lock boxes (%s):\n", filter.Label())
	now := c.clock.Now()
	w := c.table()
	c.fprintRow(w, "ID", "AMOUNT", "CREATED", "UNLOCKS", "STATUS", "REMAINING")
	for _, b := range boxes {
		status, remaining := "Active", "matured"
		switch {
		case !b.Active:
			status, remaining = "Released", formatDate(b.ReleasedAt)
		case b.TimeRemaining(now) > 0:
			remaining = b.TimeRemaining(now).Round(time.Second).String()
		}
		c.fprintRow(w, itoa(b.ID), money(b.Amount), formatDate(b.CreatedAt), formatDate(b.UnlockAt), status, remaining)
	}
	_ = w.Flush()
}
