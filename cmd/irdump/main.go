// irdump - inspect compiled IR blocks: load a serialized block, print its
// disassembly, and optionally verify register discipline.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/nushell/nushell-sub009/pkg/compile"
	"github.com/nushell/nushell-sub009/pkg/ir"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	check := flag.Bool("check", false, "Verify register discipline and exit non-zero on a violation")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: irdump [options] <block.nuir>\n\n")
		fmt.Fprintf(os.Stderr, "Prints the disassembly of a serialized IR block.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  irdump block.nuir          # Disassemble\n")
		fmt.Fprintf(os.Stderr, "  irdump -check block.nuir   # Disassemble and verify registers\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}
	log := commonlog.GetLogger("irdump")

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	wire, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(1)
	}
	block, err := ir.UnmarshalBlock(wire)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", path, err)
		os.Exit(1)
	}
	log.Debugf("loaded %s: %d instructions, %d registers",
		path, len(block.Instructions), block.RegisterCount)

	fmt.Print(block.Disassemble())

	if *check {
		if err := compile.VerifyRegisters(block); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("register discipline: ok")
	}
}
