// Command bkclient is a small interactive driver for pkg/bookie: it
// issues a single add_entry or read_entry call against a peer and
// prints the result, useful for poking at a bookie by hand.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liufeiit/bookkeeper/pkg/bookie"
)

var (
	peerAddr    string
	readTimeout time.Duration
	ledgerID    int64
	entryID     int64
	masterKey   string
)

func main() {
	root := &cobra.Command{
		Use:   "bkclient",
		Short: "Talk to a single bookie peer over the per-peer RPC client",
	}
	root.PersistentFlags().StringVar(&peerAddr, "peer", "127.0.0.1:3181", "bookie address, host:port")
	root.PersistentFlags().DurationVar(&readTimeout, "timeout", 5*time.Second, "per-request timeout")
	root.PersistentFlags().Int64Var(&ledgerID, "ledger", 0, "ledger id")
	root.PersistentFlags().StringVar(&masterKey, "master-key", "", "master key sent with add requests (fence does not send it)")

	root.AddCommand(newAddCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newFenceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newClient() (*bookie.Client, error) {
	cfg := bookie.DefaultClientConfig()
	cfg.ReadTimeout = readTimeout
	return bookie.NewClient(bookie.PeerAddress(peerAddr), nil, cfg)
}

func newAddCmd() *cobra.Command {
	var payload string
	var recovery bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append an entry to a ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			var wg sync.WaitGroup
			wg.Add(1)
			c.AddEntry(ledgerID, bookie.MasterKey(masterKey), entryID, []byte(payload),
				bookie.AddOptions{Recovery: recovery},
				func(rc bookie.ErrorKind, ledgerID, entryID int64, peer bookie.PeerAddress, ctx interface{}) {
					printOutcome("add", rc, ledgerID, entryID, peer)
					wg.Done()
				}, nil)
			wg.Wait()
			return nil
		},
	}
	cmd.Flags().Int64Var(&entryID, "entry", 0, "entry id")
	cmd.Flags().StringVar(&payload, "payload", "", "entry payload")
	cmd.Flags().BoolVar(&recovery, "recovery", false, "set the recovery-add flag")
	return cmd
}

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read an entry; --entry -1 resolves LAST_ADD_CONFIRMED",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			var wg sync.WaitGroup
			wg.Add(1)
			c.ReadEntry(ledgerID, entryID, func(rc bookie.ErrorKind, ledgerID, entryID int64, body []byte, ctx interface{}) {
				printOutcome("read", rc, ledgerID, entryID, "")
				if rc == bookie.Ok {
					fmt.Printf("  body: %q\n", body)
				}
				wg.Done()
			}, nil)
			wg.Wait()
			return nil
		},
	}
	cmd.Flags().Int64Var(&entryID, "entry", bookie.LastAddConfirmed, "entry id, or -1 for LAST_ADD_CONFIRMED")
	return cmd
}

func newFenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fence",
		Short: "Read an entry and fence the ledger against further appends",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			var wg sync.WaitGroup
			wg.Add(1)
			c.ReadEntryAndFence(ledgerID, bookie.MasterKey(masterKey), entryID, func(rc bookie.ErrorKind, ledgerID, entryID int64, body []byte, ctx interface{}) {
				printOutcome("fence", rc, ledgerID, entryID, "")
				wg.Done()
			}, nil)
			wg.Wait()
			return nil
		},
	}
	cmd.Flags().Int64Var(&entryID, "entry", bookie.LastAddConfirmed, "entry id, or -1 for LAST_ADD_CONFIRMED")
	return cmd
}

func printOutcome(op string, rc bookie.ErrorKind, ledgerID, entryID int64, peer bookie.PeerAddress) {
	line := fmt.Sprintf("%s ledger=%d entry=%d peer=%s rc=%s", op, ledgerID, entryID, peer, rc)
	if rc == bookie.Ok {
		color.Green(line)
	} else {
		color.Yellow(line)
	}
}
