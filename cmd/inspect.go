package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flashjit/codec"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <hex-payload>",
	Short: "Decode an operation payload and print its parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := hexutil.Decode(args[0])
		if err != nil {
			return fmt.Errorf("payload is not valid hex: %w", err)
		}
		p, err := codec.Decode(raw)
		if err != nil {
			return err
		}

		fmt.Printf("mode:   %d\n", p.Mode)
		fmt.Printf("family: %d\n", p.Family)
		switch p.Family {
		case codec.FamilyJIT:
			fmt.Printf("pool:     %s (type %d)\n", p.JIT.Pool.Hex(), p.JIT.PoolType)
			fmt.Printf("token0:   %s amount %s\n", p.JIT.Token0.Hex(), p.JIT.Amount0)
			fmt.Printf("token1:   %s amount %s\n", p.JIT.Token1.Hex(), p.JIT.Amount1)
			fmt.Printf("min fee:  %s\n", p.JIT.MinFeeExpected)
			fmt.Printf("position: fee tier %d ticks [%d, %d) token id %s\n",
				p.Position.FeeTier, p.Position.TickLower, p.Position.TickUpper, p.Position.TokenID)
		case codec.FamilyArb:
			fmt.Printf("start:  %s borrow %s\n", p.Arb.StartToken.Hex(), p.Arb.BorrowAmount)
			for i, step := range p.Arb.Swaps {
				fmt.Printf("hop %d:  %s -> %s via %s (dex %d) in %s min out %s\n",
					i, step.TokenIn.Hex(), step.TokenOut.Hex(), step.Pool.Hex(),
					step.Dex, step.AmountIn, step.MinAmountOut)
			}
		}
		if p.Trailer != nil {
			switch p.Mode {
			case codec.ModeUltraAggressive:
				fmt.Printf("competitor ref:      %s\n", p.Trailer.CompetitorRef.Hex())
				fmt.Printf("priority multiplier: %s\n", p.Trailer.PriorityMultiplier)
			case codec.ModeBatch:
				fmt.Printf("batch: element %s of %s\n", p.Trailer.BatchIndex, p.Trailer.BatchSize)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
