package main

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/tonylturner/mbstack/internal/app"
	"github.com/tonylturner/mbstack/internal/modbus"
)

type frameFlags struct {
	rtu      bool
	unit     int
	tid      int
	response bool
	copy     bool
}

func (f *frameFlags) options() (app.FrameOptions, error) {
	opts := app.FrameOptions{Mode: modbus.ModeTCP, Response: f.response}
	if f.rtu {
		opts.Mode = modbus.ModeRTU
	}
	if f.unit < 0 || f.unit > 0xFF {
		return opts, fmt.Errorf("--unit %d outside [0, 255]", f.unit)
	}
	if f.tid < 0 || f.tid > 0xFFFF {
		return opts, fmt.Errorf("--tid %d outside [0, 65535]", f.tid)
	}
	opts.UnitID = uint8(f.unit)
	opts.TransactionID = uint16(f.tid)
	return opts, nil
}

func newFrameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Encode or decode Modbus frames offline",
	}
	cmd.AddCommand(newFrameEncodeCmd())
	cmd.AddCommand(newFrameDecodeCmd())
	return cmd
}

func newFrameEncodeCmd() *cobra.Command {
	flags := &frameFlags{}
	cmd := &cobra.Command{
		Use:   "encode <pdu-hex>",
		Short: "Wrap a PDU in an MBAP header or RTU unit id and CRC",
		Example: `  mbstack frame encode "03 00 6B 00 03" --unit 17 --tid 1
  mbstack frame encode 03006B0003 --rtu --unit 17 --copy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			pdu, err := app.ParseHex(args[0])
			if err != nil {
				return err
			}
			adu, err := app.EncodeFrame(pdu, opts)
			if err != nil {
				return err
			}
			line := fmt.Sprintf("% X", adu)
			fmt.Fprintln(cmd.OutOrStdout(), line)
			if flags.copy {
				if err := clipboard.WriteAll(line); err != nil {
					return fmt.Errorf("copy to clipboard: %w", err)
				}
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&flags.rtu, "rtu", false, "RTU framing (unit id + PDU + CRC) instead of MBAP")
	fs.IntVar(&flags.unit, "unit", 1, "Unit id")
	fs.IntVar(&flags.tid, "tid", 1, "Transaction id (TCP)")
	fs.BoolVar(&flags.response, "response", false, "Encode a response rather than a request")
	fs.BoolVar(&flags.copy, "copy", false, "Copy the frame to the clipboard")
	return cmd
}

func newFrameDecodeCmd() *cobra.Command {
	flags := &frameFlags{}
	cmd := &cobra.Command{
		Use:   "decode <adu-hex>",
		Short: "Parse and check a complete frame",
		Example: `  mbstack frame decode "00 01 00 00 00 06 11 03 00 6B 00 03"
  mbstack frame decode "11 83 02 C1 34" --rtu --response`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			adu, err := app.ParseHex(args[0])
			if err != nil {
				return err
			}
			out, err := app.DecodeFrame(adu, opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&flags.rtu, "rtu", false, "RTU framing instead of MBAP")
	fs.BoolVar(&flags.response, "response", false, "Decode as a response")
	return cmd
}
