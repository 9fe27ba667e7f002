// siglist prints the carving signature registry and the analysis error
// codes, so a user writing a YAML registry file can see what the engine
// already knows and what names are taken.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"esmdig/carve"
	"esmdig/common"
)

func main() {
	flags := pflag.NewFlagSet("siglist", pflag.ContinueOnError)
	registryPath := flags.String("registry", "", "YAML signature file merged over the builtins")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}

	reg := carve.NewRegistry()
	if *registryPath != "" {
		doc, err := os.ReadFile(*registryPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := reg.MergeYAML(doc); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("carving signatures:")
	for _, sig := range reg.Signatures(nil) {
		fmt.Printf("  %-18s %-10s conf=%.2f magic=% X\n",
			sig.Name, sig.Class, sig.Confidence, sig.Magic)
	}

	fmt.Println("\nerror codes:")
	for code := common.ErrNone; code <= common.ErrBadRegistryFile; code++ {
		err := common.NewError(common.SeverityError, code, "", "")
		fmt.Printf("  0x%02x  %s\n", uint32(code), err.Error())
	}
}
