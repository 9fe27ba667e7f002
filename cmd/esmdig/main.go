// esmdig recovers game assets and database records from console memory
// dump images.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"esmdig/internal/report"
)

func main() {
	var cfg report.Config
	var types []string

	flags := pflag.NewFlagSet("esmdig", pflag.ContinueOnError)
	flags.StringVar(&cfg.ImagePath, "image", "", "path to the memory dump image")
	flags.StringSliceVar(&types, "types", nil, "carve only these asset classes (video,texture,audio,model,script,compressed)")
	flags.StringVar(&cfg.RegistryPath, "registry", "", "YAML signature file merged over the builtin registry")
	flags.BoolVar(&cfg.StringsOnly, "strings-only", false, "extract the string pool only, skipping carving and record recovery")
	flags.IntVar(&cfg.MinStringLen, "min-string-len", 0, "minimum printable run length for string extraction")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log scan progress and per-offset diagnostics")
	flags.BoolVar(&cfg.NoTimePrint, "no-time-print", false, "do not output elapsed time")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}
	cfg.Types = types

	// A bare positional argument is accepted as the image path.
	if cfg.ImagePath == "" && flags.NArg() == 1 {
		cfg.ImagePath = flags.Arg(0)
	}
	if cfg.ImagePath == "" {
		fmt.Fprintln(os.Stderr, "esmdig : Error: no image path (use --image or a positional argument)")
		flags.Usage()
		os.Exit(2)
	}

	// Ctrl-C turns the run into a partial-result report instead of killing it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg.OutputWriter = os.Stdout
	if err := report.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
