package app

import (
	"fmt"
	"io"
	"os"

	"github.com/tonylturner/mbstack/internal/pcap"
)

type PcapOptions struct {
	Path  string // capture file or directory
	Port  uint16 // 0 means 502
	Dump  bool   // print every frame
	Hex   bool   // with the annotated ADU
	Limit int    // frames to print per file, 0 for all
	Out   io.Writer
}

// RunPcap summarizes the Modbus traffic of one capture or every capture
// in a directory.
func RunPcap(opts PcapOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	port := opts.Port
	if port == 0 {
		port = pcap.ModbusPort
	}
	files, err := pcap.CollectPcapFiles(opts.Path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no capture files found in %s", opts.Path)
	}

	for _, file := range files {
		packets, err := extractFile(file, port)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		fmt.Fprintf(out, "== %s\n", file)
		if opts.Dump {
			dumpPackets(out, packets, opts.Hex, opts.Limit)
		}
		fmt.Fprintln(out, pcap.SummarizeModbus(packets).String())
	}
	return nil
}

func extractFile(path string, port uint16) ([]pcap.ModbusPacket, error) {
	if port == pcap.ModbusPort {
		return pcap.ExtractModbusFromPCAP(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	defer f.Close()
	return pcap.ExtractModbus(f, port)
}

func dumpPackets(out io.Writer, packets []pcap.ModbusPacket, hex bool, limit int) {
	for i, p := range packets {
		if limit > 0 && i >= limit {
			fmt.Fprintf(out, "... %d more frames\n", len(packets)-limit)
			return
		}
		dir := "<-"
		if p.IsRequest {
			dir = "->"
		}
		fmt.Fprintf(out, "%s %s:%d %s %s:%d %s\n",
			p.Timestamp.Format("15:04:05.000000"), p.SrcIP, p.SrcPort, dir, p.DstIP, p.DstPort, p.Description)
		if hex {
			fmt.Fprint(out, pcap.FormatADU(p.FullFrame, p.Mode))
		}
	}
}
