package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/poller"
	"github.com/ggbundi/Nomatoken/internal/validation"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pollFlags(cmd *cobra.Command, o *poller.Options) {
	d := poller.DefaultOptions()
	cmd.Flags().DurationVar(&o.InitialDelay, "initial-delay", d.InitialDelay, "Wait before the first status query")
	cmd.Flags().DurationVar(&o.Interval, "interval", d.Interval, "Delay between status queries")
	cmd.Flags().DurationVar(&o.Timeout, "timeout", d.Timeout, "Give up after this long")
}

func runPoll(cmd *cobra.Command, client *poller.Client, checkoutID string, o poller.Options) error {
	o.OnCheck = func(p *domain.PaymentStatus) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s  %s\n", time.Now().Format(time.TimeOnly), p.Status)
	}
	status, err := poller.Poll(cmd.Context(), client, checkoutID, o)
	if err != nil {
		return err
	}
	if status == nil {
		return fmt.Errorf("payment %s still pending after %s", checkoutID, o.Timeout)
	}
	return printJSON(status)
}

func initiateCmd(opts *globalOptions) *cobra.Command {
	var (
		in   validation.PaymentInput
		amt  float64
		wait bool
		po   poller.Options
	)
	cmd := &cobra.Command{
		Use:   "initiate",
		Short: "Send an STK push to a phone",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Amount = amt
			client := opts.client()
			session, err := client.Initiate(cmd.Context(), in)
			if err != nil {
				return err
			}
			if err := printJSON(session); err != nil {
				return err
			}
			if !wait {
				return nil
			}
			return runPoll(cmd, client, session.CheckoutRequestID, po)
		},
	}
	cmd.Flags().StringVarP(&in.PhoneNumber, "phone", "p", "", "Customer phone (0XXXXXXXXX or 254XXXXXXXXX)")
	cmd.Flags().Float64VarP(&amt, "amount", "a", 0, "Amount in KES")
	cmd.Flags().StringVarP(&in.AccountReference, "reference", "r", "", "Account reference shown to the customer")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the payment settles")
	pollFlags(cmd, &po)
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func statusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [checkoutRequestId]",
		Short: "Show the status of a checkout session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}

func pollCmd(opts *globalOptions) *cobra.Command {
	var po poller.Options
	cmd := &cobra.Command{
		Use:   "poll [checkoutRequestId]",
		Short: "Wait for a checkout session to settle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(cmd, opts.client(), args[0], po)
		},
	}
	pollFlags(cmd, &po)
	return cmd
}

func updateCmd(opts *globalOptions) *cobra.Command {
	var in validation.StatusUpdateInput
	cmd := &cobra.Command{
		Use:   "update [checkoutRequestId]",
		Short: "Set a session status by hand (requires --admin-token)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.adminToken == "" {
				return errors.New("--admin-token or PAYMENT_ADMIN_TOKEN is required")
			}
			in.CheckoutRequestID = args[0]
			status, err := opts.client().UpdateStatus(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
	cmd.Flags().StringVarP(&in.Status, "status", "s", "", "New status (pending, completed, failed, cancelled, expired)")
	cmd.Flags().StringVarP(&in.ResultDesc, "desc", "d", "", "Result description")
	cmd.Flags().StringVar(&in.MpesaReceiptNumber, "receipt", "", "M-Pesa receipt number")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func purchaseCmd(opts *globalOptions) *cobra.Command {
	var (
		in  validation.PurchaseInput
		amt float64
	)
	cmd := &cobra.Command{
		Use:   "purchase [checkoutRequestId]",
		Short: "Record the token purchase for a completed payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			in.CheckoutRequestID = args[0]
			in.PaymentMethod = domain.PaymentMethodMpesa

			if in.MerchantRequestID == "" || in.MpesaReceiptNumber == "" {
				status, err := client.Status(cmd.Context(), in.CheckoutRequestID)
				if err != nil {
					return err
				}
				if status.Status != domain.StatusCompleted {
					return fmt.Errorf("payment %s is %s", in.CheckoutRequestID, status.Status)
				}
				if in.MerchantRequestID == "" {
					in.MerchantRequestID = status.MerchantRequestID
				}
				if in.MpesaReceiptNumber == "" {
					in.MpesaReceiptNumber = status.MpesaReceiptNumber
				}
				if amt == 0 {
					amt = status.Amount
				}
			}
			in.Amount = amt

			purchase, err := client.CompletePurchase(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(purchase)
		},
	}
	cmd.Flags().StringVarP(&in.PhoneNumber, "phone", "p", "", "Phone that paid")
	cmd.Flags().Float64VarP(&amt, "amount", "a", 0, "USD amount (defaults to the session amount)")
	cmd.Flags().StringVar(&in.MerchantRequestID, "merchant", "", "Merchant request ID (looked up when empty)")
	cmd.Flags().StringVar(&in.MpesaReceiptNumber, "receipt", "", "M-Pesa receipt (looked up when empty)")
	cmd.Flags().StringVar(&in.UserAddress, "address", "", "Wallet address to credit")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func historyCmd(opts *globalOptions) *cobra.Command {
	var address, phone string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded token purchases",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" && phone == "" {
				return errors.New("--address or --phone is required")
			}
			purchases, err := opts.client().PurchaseHistory(cmd.Context(), address, phone)
			if err != nil {
				return err
			}
			return printJSON(purchases)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "Wallet address")
	cmd.Flags().StringVarP(&phone, "phone", "p", "", "Phone number")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject, role string
		ttl           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a service token for administrative calls",
		Long: `Signs a service token with SERVICE_TOKEN_SECRET. The server accepts
the roles admin and operator on POST /payment/status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("SERVICE_TOKEN_SECRET")
			if secret == "" {
				return errors.New("SERVICE_TOKEN_SECRET is not set")
			}
			tokens := security.NewServiceTokens(secret, envOr("SERVICE_TOKEN_ISSUER", "nomatoken"))
			signed, err := tokens.Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "paymentctl", "Token subject")
	cmd.Flags().StringVar(&role, "role", "operator", "Role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
