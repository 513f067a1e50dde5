package console

import (
	"context"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/n3tuk/time-locked-savings/internal/model"
)

func (c *Console) adminLogin(ctx context.Context) error {
	username, err := c.prompt("Admin username: ")
	if err != nil {
		return err
	}
	password, err := c.prompt("Admin password: ")
	if err != nil {
		return err
	}

	admin, err := c.ledger.AdminLogin(ctx, username, password)
	if err != nil {
		c.fail(err)
		return nil
	}

	c.printf("Welcome, administrator %s.\n", admin.Username)
	err = c.adminSession(ctx)
	c.ledger.AdminLogout(ctx, admin.Username)
	c.println("Logged out.")
	return err
}

func (c *Console) adminSession(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.println()
		c.println("--- Administration ---")
		c.println("1. List users")
		c.println("2. Toggle user status")
		c.println("3. View user lock boxes")
		c.println("4. View release log")
		c.println("5. Clear release log")
		c.println("6. Logout")

		choice, err := c.prompt("Choice: ")
		if err != nil {
			return err
		}

		switch choice {
		case "1":
			c.listUsers()
		case "2":
			err = c.toggleUser(ctx)
		case "3":
			err = c.viewUserLockBoxes()
		case "4":
			c.showReleaseLog()
		case "5":
			err = c.clearReleaseLog()
		case "6":
			return nil
		default:
			c.println("Invalid choice.")
		}
		if err != nil {
			return err
		}
	}
}

func (c *Console) listUsers() {
	accounts := c.ledger.Accounts()
	if len(accounts) == 0 {
		c.println("No users registered.")
		return
	}

	w := c.table()
	c.fprintRow(w, "USERNAME", "BALANCE", "LOCKED", "ACTIVE BOXES", "RELEASED BOXES", "STATUS", "REGISTERED")
	for _, a := range accounts {
		active, released := a.CountLockBoxes()
		c.fprintRow(w, a.Username, money(a.Balance), money(a.LockedTotal()),
			strconv.Itoa(active), strconv.Itoa(released), statusLabel(a.Active), formatDate(a.RegisteredAt))
	}
	_ = w.Flush()
}

func (c *Console) toggleUser(ctx context.Context) error {
	username, err := c.prompt("Username: ")
	if err != nil {
		return err
	}
	active, err := c.ledger.ToggleActive(ctx, username)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.printf("User %s is now %s.\n", username, statusLabel(active))
	return nil
}

func (c *Console) viewUserLockBoxes() error {
	username, err := c.prompt("Username: ")
	if err != nil {
		return err
	}
	filter := model.LockBoxFilter{ShowActive: true, ShowReleased: true}
	boxes, err := c.ledger.LockBoxes(username, filter)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.printLockBoxes(filter, boxes)
	return nil
}

func (c *Console) showReleaseLog() {
	log := c.ledger.ReleaseLog()
	if len(log) == 0 {
		c.println("Release log is empty.")
		return
	}

	w := c.table()
	c.fprintRow(w, "LOCK BOX", "USERNAME", "AMOUNT", "RELEASED")
	for _, ev := range log {
		c.fprintRow(w, itoa(ev.LockBoxID), ev.Username, money(ev.Amount), formatDate(ev.ReleasedAt))
	}
	_ = w.Flush()
}

func (c *Console) clearReleaseLog() error {
	n := len(c.ledger.ReleaseLog())
	if n == 0 {
		c.println("Release log is empty.")
		return nil
	}
	ok, err := c.promptYesNo("Clear " + strconv.Itoa(n) + " release event(s)?")
	if err != nil || !ok {
		return err
	}
	cleared := c.ledger.ClearReleaseLog()
	c.printf("Cleared %d release event(s).\n", cleared)
	return nil
}

func (c *Console) fprintRow(w *tabwriter.Writer, cols ...string) {
	_, _ = io.WriteString(w, strings.Join(cols, "\t")+"\n")
}

func statusLabel(active bool) string {
	if active {
		return "Active"
	}
	return "Inactive"
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
