package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/newthinker/tinkclaw/internal/app"
	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Broker operations",
	Long:  `Commands for inspecting the configured broker (account and positions).`,
}

var brokerAccountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show account information",
	RunE:  runBrokerAccount,
}

var brokerPositionCmd = &cobra.Command{
	Use:   "position <symbol>",
	Short: "Show the position held in a symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrokerPosition,
}

var brokerOrdersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List broker orders",
	RunE:  runBrokerOrders,
}

func init() {
	rootCmd.AddCommand(brokerCmd)
	brokerCmd.AddCommand(brokerAccountCmd)
	brokerCmd.AddCommand(brokerPositionCmd)
	brokerCmd.AddCommand(brokerOrdersCmd)

	brokerOrdersCmd.Flags().String("status", broker.OrdersOpen, "order status filter (open, closed, all)")
}

var errNoBroker = core.WrapError(core.ErrConfigMissing, errors.New("no broker configured (broker.provider)"))

func runBrokerAccount(cmd *cobra.Command, args []string) error {
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		if rt.Adapter == nil {
			return errNoBroker
		}
		acct, err := rt.Adapter.GetAccount(ctx)
		if err != nil {
			return fmt.Errorf("getting account info: %w", err)
		}

		fmt.Println("Account Summary")
		fmt.Println("---------------")
		fmt.Printf("Broker:       %s\n", rt.Adapter.Name())
		fmt.Printf("Account:      %s (%s)\n", acct.ID, acct.Status)
		fmt.Printf("Equity:       %s %s\n", acct.Equity.StringFixed(2), acct.Currency)
		fmt.Printf("Cash:         %s %s\n", acct.Cash.StringFixed(2), acct.Currency)
		fmt.Printf("Buying Power: %s %s\n", acct.BuyingPower.StringFixed(2), acct.Currency)

		log.Info("account info displayed", zap.String("broker", rt.Adapter.Name()))
		return nil
	})
}

func runBrokerPosition(cmd *cobra.Command, args []string) error {
	symbol := strings.ToUpper(args[0])
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		if rt.Adapter == nil {
			return errNoBroker
		}
		pos, err := rt.Adapter.GetPosition(ctx, symbol)
		if errors.Is(err, core.ErrNotFound) {
			fmt.Printf("No position in %s.\n", symbol)
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting position: %w", err)
		}

		fmt.Printf("Symbol:    %s\n", pos.Symbol)
		fmt.Printf("Size:      %s\n", pos.Size)
		fmt.Printf("Avg entry: %s\n", pos.AvgEntry.StringFixed(2))
		return nil
	})
}

func runBrokerOrders(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		if rt.Adapter == nil {
			return errNoBroker
		}
		lister, ok := rt.Adapter.(broker.OrderLister)
		if !ok {
			return fmt.Errorf("broker %s cannot list orders", rt.Adapter.Name())
		}
		orders, err := lister.Orders(ctx, status)
		if err != nil {
			return fmt.Errorf("listing orders: %w", err)
		}
		if len(orders) == 0 {
			fmt.Printf("No %s orders.\n", status)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ORDER\tSYMBOL\tSIDE\tSIZE\tFILLED\tPRICE\tSTATE\tSUBMITTED")
		for _, o := range orders {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				o.OrderID, o.Symbol, o.Side, o.Size, o.FilledSize, o.FillPrice.StringFixed(2),
				o.State, o.At.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	})
}
