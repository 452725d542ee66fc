package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/siddimore/bsv-paygate/internal/config"
	"github.com/siddimore/bsv-paygate/pkg/paygate"
)

var challengeFlags struct {
	price     uint64
	recipient string
}

type challengeOutput struct {
	Headers map[string]string      `json:"headers"`
	Body    *paygate.ChallengeBody `json:"body,omitempty"`
}

var challengeCmd = &cobra.Command{
	Use:   "challenge [url]",
	Short: "Print a payment challenge",
	Long: `Without arguments, challenge issues a challenge locally from the config
and flags. With a URL, it requests the URL and prints the challenge the
server answered with.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			out *challengeOutput
			err error
		)
		if len(args) == 1 {
			out, err = fetchChallenge(&http.Client{Timeout: 10 * time.Second}, args[0])
		} else {
			out, err = localChallenge(cmd)
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	challengeCmd.Flags().Uint64Var(&challengeFlags.price, "price", 0, "required satoshis")
	challengeCmd.Flags().StringVar(&challengeFlags.recipient, "recipient", "", "recipient address")
}

func localChallenge(cmd *cobra.Command) (*challengeOutput, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("price") {
		cfg.Price = challengeFlags.price
	}
	if cmd.Flags().Changed("recipient") {
		cfg.RecipientAddress = challengeFlags.recipient
	}
	if cfg.RecipientAddress == "" {
		return nil, fmt.Errorf("recipient address is required; use --recipient")
	}

	c, err := paygate.IssueChallenge(cfg.Price, cfg.RecipientAddress, cfg.Fee)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	c.SetHeaders(h)
	body := c.Body()
	return &challengeOutput{Headers: flatten(h), Body: &body}, nil
}

func fetchChallenge(client *http.Client, url string) (*challengeOutput, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("%s returned %d, not 402", url, resp.StatusCode)
	}
	if _, err := paygate.ParseChallenge(resp.Header); err != nil {
		return nil, fmt.Errorf("parse challenge: %w", err)
	}

	out := &challengeOutput{Headers: flatten(resp.Header)}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var body paygate.ChallengeBody
	if json.Unmarshal(raw, &body) == nil {
		out.Body = &body
	}
	return out, nil
}

// flatten keeps only the payment headers.
func flatten(h http.Header) map[string]string {
	names := []string{
		paygate.HeaderVersion,
		paygate.HeaderSatoshisRequired,
		paygate.HeaderDerivationPrefix,
		paygate.HeaderAddress,
		paygate.HeaderFeeSatoshis,
		paygate.HeaderFeeKeyID,
		paygate.HeaderFeeDerivationSufx,
		paygate.HeaderFeeIdentityKey,
		paygate.HeaderFeeAddress,
	}
	out := make(map[string]string)
	for _, name := range names {
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}
