package commands

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"text/tabwriter"

	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/DukeRupert/posadmin/internal/guard"
)

type OrderCmd struct {
	ID       string `arg:"" help:"Order ID"`
	Payments bool   `help:"Show payments instead of line items"`
}

func (o *OrderCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer c.close()

	page := "/orders/" + url.PathEscape(o.ID)
	if o.Payments {
		page = "/payments/" + url.PathEscape(o.ID)
	}

	// The guard decides when this command has lost its session; it fires at
	// most once.
	redirect := make(chan string, 1)
	stop := guard.Watch(ctx, c.store, page, guard.NavigatorFunc(func(target string) {
		redirect <- target
	}))
	defer stop()

	action, _, err := guard.Await(ctx, c.store, page)
	if err != nil {
		return err
	}
	if action == guard.Redirect {
		return loginRequired(ctx, redirect)
	}

	order, err := c.client.GetOrderByID(ctx, c.store.Snapshot().User.Token, o.ID)
	if domain.IsCode(err, domain.EUNAUTHORIZED) {
		if err := c.store.Logout(); err != nil {
			c.logger.Warn("logout after rejected token failed", "error", err)
		}
		return loginRequired(ctx, redirect)
	}
	if err != nil {
		return fmt.Errorf("failed to load order %s: %s", o.ID, domain.ErrorMessage(err))
	}

	if o.Payments {
		printPayments(globals.Stdout, order)
	} else {
		printOrder(globals.Stdout, order)
	}
	return nil
}

func loginRequired(ctx context.Context, redirect <-chan string) error {
	select {
	case target := <-redirect:
		return &LoginRequiredError{Target: target}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printOrder(w io.Writer, o *domain.OrderRecord) {
	fmt.Fprintf(w, "Order %s (%s) created %s\n\n", o.ID, o.Status, o.CreatedAt.Local().Format("Jan 2, 2006 3:04 PM"))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tQTY\tPRICE")
	for _, item := range o.Items {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", item.Name, item.Quantity, money(item.PriceCents, o.Currency))
	}
	fmt.Fprintf(tw, "TOTAL\t\t%s\n", money(o.TotalCents, o.Currency))
	tw.Flush()
}

func printPayments(w io.Writer, o *domain.OrderRecord) {
	fmt.Fprintf(w, "Payments for order %s\n\n", o.ID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAYMENT\tMETHOD\tAMOUNT")
	for _, p := range o.Payments {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Method, money(p.AmountCents, o.Currency))
	}
	fmt.Fprintf(tw, "PAID\t\t%s\n", money(o.PaidCents(), o.Currency))
	fmt.Fprintf(tw, "BALANCE\t\t%s\n", money(o.BalanceCents(), o.Currency))
	tw.Flush()
}

func money(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
