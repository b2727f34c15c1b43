package main

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/eugenenazirov/stoic-cms/internal/secrets"
)

type options struct {
	appKeys int
	output  string
	force   bool
	quiet   bool
}

func main() {
	app := kingpin.New("gensecrets", "Generate secrets for a production deployment")
	appKeys := app.Flag("app-keys", "Number of session keys in APP_KEYS").Default("4").Int()
	output := app.Flag("output", "Write the secrets to this env file (mode 0600) instead of stdout").Short('o').String()
	force := app.Flag("force", "Overwrite the output file if it exists").Bool()
	quiet := app.Flag("quiet", "Print only the KEY=value lines").Short('q').Bool()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	opts := options{appKeys: *appKeys, output: *output, force: *force, quiet: *quiet}
	if err := run(opts, rand.Reader, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, source io.Reader, stdout io.Writer) error {
	bundle, err := secrets.Generate(source, opts.appKeys)
	if err != nil {
		return err
	}

	if opts.output != "" {
		if err := writeFile(opts.output, bundle, opts.force); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Secrets written to %s\n", opts.output)
		return nil
	}

	if opts.quiet {
		return printPairs(stdout, bundle)
	}

	fmt.Fprintln(stdout, "Generated secrets for production deployment")
	fmt.Fprintln(stdout, strings.Repeat("=", 60))
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Copy these values to your .env file:")
	fmt.Fprintln(stdout)
	if err := printPairs(stdout, bundle); err != nil {
		return err
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Keep these secrets out of version control and store them in a password manager.")
	return nil
}

func printPairs(w io.Writer, bundle secrets.Bundle) error {
	for _, p := range bundle.Pairs() {
		if _, err := fmt.Fprintf(w, "%s=%s\n", p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, bundle secrets.Bundle, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	var buf bytes.Buffer
	if err := bundle.WriteEnv(&buf); err != nil {
		return err
	}

	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists, refusing to overwrite (use --force)", path)
		}
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("restrict permissions on %s: %w", path, err)
	}
	return f.Close()
}
