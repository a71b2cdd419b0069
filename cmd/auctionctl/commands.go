package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"maker-auction/internal/auth"
	"maker-auction/internal/client"
	"maker-auction/pkg/types"
)

const (
	flagAPI     = "api"
	flagKey     = "key"
	flagChainID = "chain-id"
	flagFrom    = "from"
	flagVerbose = "verbose"
	flagUnits   = "units"
	flagBidder  = "bidder"
	flagLimit   = "limit"
	flagDisable = "disable"
)

// NewRootCmd returns the auctionctl command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "auctionctl",
		Short:         "Inspect and bid on maker fee auctions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().String(flagAPI, envOr("AUCTION_API", "http://localhost:8545"), "daemon base URL")
	cmd.PersistentFlags().String(flagKey, os.Getenv("AUCTION_KEY"), "hex private key used to sign requests")
	cmd.PersistentFlags().Int64(flagChainID, 1, "chain ID in the signing domain")
	cmd.PersistentFlags().String(flagFrom, "", "caller address for unsigned requests")
	cmd.PersistentFlags().BoolP(flagVerbose, "v", false, "log requests to stderr")

	cmd.AddCommand(
		CmdStatus(),
		CmdAuctions(),
		CmdShow(),
		CmdStart(),
		CmdBid(),
		CmdEnd(),
		CmdSkim(),
		CmdUnwind(),
		CmdStaked(),
		CmdHistory(),
		CmdReceiver(),
		CmdWhitelist(),
		CmdWatch(),
	)
	return cmd
}

// CmdStatus prints the engine summary.
func CmdStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show owner, receiver, staked total and active auctions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func CmdAuctions() *cobra.Command {
	return &cobra.Command{
		Use:   "auctions",
		Short: "List active auctions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.Auctions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func CmdShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show [token]",
		Short: "Show the auction for a reward token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := parseAddress("token", args[0])
			if err != nil {
				return err
			}
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.Auction(cmd.Context(), tok)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// CmdStart opens an auction with the caller's opening bid.
func CmdStart() *cobra.Command {
	return bidCmd("start [token] [amount]", "Open an auction with an opening bid",
		func(ctx context.Context, c *client.Client, tok common.Address, req types.BidRequest) (*types.AuctionView, error) {
			return c.Start(ctx, tok, req)
		})
}

// CmdBid outbids the current leader.
func CmdBid() *cobra.Command {
	return bidCmd("bid [token] [amount]", "Outbid the current high bidder",
		func(ctx context.Context, c *client.Client, tok common.Address, req types.BidRequest) (*types.AuctionView, error) {
			return c.Bid(ctx, tok, req)
		})
}

type bidFunc func(ctx context.Context, c *client.Client, tok common.Address, req types.BidRequest) (*types.AuctionView, error)

func bidCmd(use, short string, call bidFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  "Amount is in raw token units unless --units is set, in which case it is a decimal in whole tokens.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := parseAddress("token", args[0])
			if err != nil {
				return err
			}
			c, caller, err := newClient(cmd)
			if err != nil {
				return err
			}

			bidder := caller
			if s, _ := cmd.Flags().GetString(flagBidder); s != "" {
				if bidder, err = parseAddress("bidder", s); err != nil {
					return err
				}
			}
			req := types.BidRequest{Caller: caller.Hex(), Bidder: bidder.Hex()}
			if units, _ := cmd.Flags().GetBool(flagUnits); units {
				req.AmountUnits = args[1]
			} else {
				req.Amount = args[1]
			}

			out, err := call(cmd.Context(), c, tok, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Bool(flagUnits, false, "amount is in whole tokens")
	cmd.Flags().String(flagBidder, "", "address credited with the bid (default: caller)")
	return cmd
}

func CmdEnd() *cobra.Command {
	return &cobra.Command{
		Use:   "end [token]",
		Short: "Settle a closed auction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := parseAddress("token", args[0])
			if err != nil {
				return err
			}
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.End(cmd.Context(), tok)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func CmdSkim() *cobra.Command {
	return &cobra.Command{
		Use:   "skim",
		Short: "Send bid token held beyond escrow to the receiver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.Skim(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func CmdUnwind() *cobra.Command {
	return &cobra.Command{
		Use:   "unwind [tokenA] [tokenB]",
		Short: "Burn held LP shares of a pair into its underlying tokens",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenA, err := parseAddress("tokenA", args[0])
			if err != nil {
				return err
			}
			tokenB, err := parseAddress("tokenB", args[1])
			if err != nil {
				return err
			}
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.Unwind(cmd.Context(), tokenA, tokenB)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func CmdStaked() *cobra.Command {
	return &cobra.Command{
		Use:   "staked",
		Short: "Show escrowed bids against the bid token actually held",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.Staked(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func CmdHistory() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [token]",
		Short: "Show journaled events for a token (zero address for all)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := parseAddress("token", args[0])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt(flagLimit)
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.History(cmd.Context(), tok, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Int(flagLimit, 50, "most recent events to show (0 for all)")
	return cmd
}

// CmdReceiver changes where proceeds go. Owner only.
func CmdReceiver() *cobra.Command {
	return &cobra.Command{
		Use:   "receiver [address]",
		Short: "Change the proceeds receiver (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			receiver, err := parseAddress("receiver", args[0])
			if err != nil {
				return err
			}
			c, caller, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.UpdateReceiver(cmd.Context(), types.ReceiverRequest{
				Caller:   caller.Hex(),
				Receiver: receiver.Hex(),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// CmdWhitelist adds or removes an auctionable token. Owner only.
func CmdWhitelist() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist [token]",
		Short: "Add a token to the auction whitelist (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := parseAddress("token", args[0])
			if err != nil {
				return err
			}
			disable, _ := cmd.Flags().GetBool(flagDisable)
			c, caller, err := newClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.UpdateWhitelist(cmd.Context(), types.WhitelistRequest{
				Caller:  caller.Hex(),
				Token:   tok.Hex(),
				Enabled: !disable,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Bool(flagDisable, false, "remove the token instead")
	return cmd
}

// CmdWatch prints stream frames, one JSON object per line, until interrupted.
func CmdWatch() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the live event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, _ := cmd.Flags().GetString(flagAPI)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := client.NewWatcher(base, newLogger(cmd))
			go w.Run(ctx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-w.Messages():
					if err := enc.Encode(msg); err != nil {
						return err
					}
				}
			}
		},
	}
}

// newClient builds a client from the persistent flags and resolves the
// caller: the key's address when signing, otherwise --from.
func newClient(cmd *cobra.Command) (*client.Client, common.Address, error) {
	base, _ := cmd.Flags().GetString(flagAPI)
	key, _ := cmd.Flags().GetString(flagKey)
	chainID, _ := cmd.Flags().GetInt64(flagChainID)
	from, _ := cmd.Flags().GetString(flagFrom)

	var signer *auth.Signer
	var caller common.Address
	if key != "" {
		var err error
		if signer, err = auth.NewSigner(key, chainID); err != nil {
			return nil, common.Address{}, err
		}
		caller = signer.Address()
	} else if from != "" {
		var err error
		if caller, err = parseAddress(flagFrom, from); err != nil {
			return nil, common.Address{}, err
		}
	}
	return client.New(base, signer, newLogger(cmd)), caller, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if v, _ := cmd.Flags().GetBool(flagVerbose); v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %s is not a valid address", name, strconv.Quote(s))
	}
	return common.HexToAddress(s), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
