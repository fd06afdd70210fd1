package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/wippyai/ffi-bridge/bridge"
	"github.com/wippyai/ffi-bridge/config"
	"github.com/wippyai/ffi-bridge/guard"
	"github.com/wippyai/ffi-bridge/wasmlib"
)

type options struct {
	wasm      string
	config    string
	namespace string
	wit       string
	sig       string
	symbol    string
	args      []string
	logLevel  string
	list      bool
	verify    bool
}

type argList []string

func (a *argList) String() string     { return strings.Join(*a, ",") }
func (a *argList) Set(v string) error { *a = append(*a, v); return nil }

func main() {
	var (
		opts        options
		args        argList
		interactive bool
	)
	flag.StringVar(&opts.wasm, "wasm", "", "Path to native library wasm file")
	flag.StringVar(&opts.config, "config", "", "Path to bridge config file (verifies the contract)")
	flag.StringVar(&opts.namespace, "ns", "", "Library namespace (defaults to the config or the file name)")
	flag.StringVar(&opts.wit, "wit", "", "Interface file with function signatures")
	flag.StringVar(&opts.sig, "sig", "", "Signature of the called function, e.g. 'func(a: u32) -> u32'")
	flag.StringVar(&opts.symbol, "call", "", "Function to call: symbol or function name")
	flag.Var(&args, "arg", "Argument to pass (repeatable)")
	flag.StringVar(&opts.logLevel, "log", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.list, "list", false, "List exported symbols and exit")
	flag.BoolVar(&opts.verify, "verify", false, "Verify the contract and exit")
	flag.BoolVar(&interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()
	opts.args = args

	if opts.wasm == "" && opts.config == "" {
		fmt.Fprintln(os.Stderr, "Usage: ffiprobe -wasm <lib.wasm> [-ns name] -list")
		fmt.Fprintln(os.Stderr, "       ffiprobe -config <bridge.yaml> -verify")
		fmt.Fprintln(os.Stderr, "       ffiprobe -wasm <lib.wasm> -call echo -sig 'func(s: string) -> string' -arg hello")
		fmt.Fprintln(os.Stderr, "       ffiprobe -wasm <lib.wasm> -wit <lib.wit> -i  (interactive mode)")
		os.Exit(1)
	}

	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// open loads the library. With a config file the contract is verified.
func open(ctx context.Context, opts options) (*bridge.Bridge, error) {
	if opts.config != "" {
		cfg, err := config.Load(opts.config)
		if err != nil {
			return nil, err
		}
		if opts.wasm != "" {
			cfg.Library.Path = opts.wasm
		}
		if opts.logLevel != "" {
			cfg.LogLevel = opts.logLevel
		}
		return bridge.Open(ctx, cfg)
	}

	if opts.verify {
		return nil, fmt.Errorf("-verify needs -config")
	}
	ns := opts.namespace
	if ns == "" {
		ns = namespaceOf(opts.wasm)
	}
	logger, err := config.NewLogger(opts.logLevel)
	if err != nil {
		return nil, err
	}
	lib, err := wasmlib.LoadFile(ctx, opts.wasm, wasmlib.Options{Name: ns})
	if err != nil {
		return nil, err
	}
	b, err := bridge.New(lib, bridge.Options{Namespace: ns, Logger: logger})
	if err != nil {
		_ = lib.Close(ctx)
		return nil, err
	}
	return b, nil
}

func run(opts options) error {
	ctx := context.Background()

	b, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	fmt.Printf("Library: %s (namespace %s)\n", libraryName(opts), b.Namespace())

	if opts.verify {
		fmt.Println("Contract: ok")
		return nil
	}

	if opts.list || opts.symbol == "" {
		printSymbols(os.Stdout, b)
		return nil
	}

	sig, err := signatureFor(opts, b.Namespace())
	if err != nil {
		return err
	}

	symbol := symbolFor(b.Namespace(), opts.symbol)
	fmt.Printf("\nCalling %s(%s)...\n", symbol, strings.Join(opts.args, ", "))
	out, err := callDynamic(ctx, b, symbol, sig, opts.args)
	if err != nil {
		return err
	}
	fmt.Printf("Result: %s\n", out)
	return nil
}

// signatureFor picks the signature of the called function from -sig or the
// interface file. Without either the function is called with no arguments
// and its results are printed as raw slots.
func signatureFor(opts options, ns string) (guard.Signature, error) {
	entity := entityFor(ns, opts.symbol)
	if opts.sig != "" {
		sigs, err := guard.ParseSignatures(strings.TrimPrefix(entity, "func_") + ": " + opts.sig)
		if err != nil {
			return guard.Signature{}, err
		}
		return sigs[0], nil
	}
	if opts.wit != "" {
		sigs, err := readSignatures(opts.wit)
		if err != nil {
			return guard.Signature{}, err
		}
		for _, s := range sigs {
			if s.Entity == entity {
				return s, nil
			}
		}
		return guard.Signature{}, fmt.Errorf("no signature for %s in %s", entity, opts.wit)
	}
	return guard.Signature{Entity: entity}, nil
}

func readSignatures(path string) ([]guard.Signature, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interface: %w", err)
	}
	return guard.ParseSignatures(string(text))
}

func libraryName(opts options) string {
	if opts.wasm != "" {
		return opts.wasm
	}
	return opts.config
}
