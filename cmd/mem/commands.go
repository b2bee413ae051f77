package mem

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/15201047795/outpost-core/cmd/util"
	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	readCmd = &cobra.Command{
		Use:   "read [address] [length]",
		Short: "Reads length bytes starting at address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			extAddress, address, err := util.ParseAddress(args[0])
			if err != nil {
				return err
			}
			length, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("length must be a number: %w", err)
			}
			if length <= 0 {
				return fmt.Errorf("length must be positive")
			}

			dst := make([]byte, length)
			n, err := engine.Read(viper.GetString("target"), options(cmd, extAddress), address, dst, util.GetTimeout())
			if err != nil {
				return describe(err)
			}
			fmt.Print(hex.Dump(dst[:n]))
			return nil
		},
	}
	writeCmd = &cobra.Command{
		Use:   "write [address] [data]",
		Short: "Writes hex encoded data starting at address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			extAddress, address, err := util.ParseAddress(args[0])
			if err != nil {
				return err
			}
			data, err := util.ParseBytes(args[1])
			if err != nil {
				return fmt.Errorf("data must be hex encoded: %w", err)
			}

			opts := options(cmd, extAddress)
			if err := engine.Write(viper.GetString("target"), opts, address, data, util.GetTimeout()); err != nil {
				return describe(err)
			}
			if opts.ReplyRequested {
				fmt.Printf("wrote %d bytes\n", len(data))
			} else {
				fmt.Printf("sent %d bytes\n", len(data))
			}
			return nil
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{readCmd, writeCmd} {
		c.Flags().Bool("increment", true, util.WrapString("Increment the memory address for every byte"))
	}
	writeCmd.Flags().Bool("verify", false, util.WrapString("Ask the target to verify the data before writing it"))
	writeCmd.Flags().Bool("no-reply", false, util.WrapString("Do not wait for a reply"))
}

// describe adds the result type and the remote status to err
func describe(err error) error {
	if status, ok := common.StatusOf(err); ok {
		return fmt.Errorf("%s: target reported status %d (%s)", common.ResultOf(err), uint8(status), status)
	}
	return fmt.Errorf("%s: %w", common.ResultOf(err), err)
}
