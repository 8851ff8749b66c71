// Command secretctl manages the provider API keys kept in the secrets table.
//
//	secretctl put NAME < value
//	secretctl list
//	secretctl delete NAME
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"studybuddy/pkg/domain"
	"studybuddy/pkg/store"
	"studybuddy/services/studybuddy/internal/config"
)

type secretStore interface {
	PutSecret(secret domain.Secret) error
	ListSecretNames() ([]string, error)
	DeleteSecret(name string) error
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		exitErr(err)
	}
	dsn, err := databaseURL()
	if err != nil {
		exitErr(err)
	}
	st, err := store.NewGormStore(dsn)
	if err != nil {
		exitErr(err)
	}
	if err := run(os.Args[1:], os.Stdin, os.Stdout, st); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		exitErr(err)
	}
}

var errUsage = errors.New("usage")

func run(args []string, stdin io.Reader, stdout io.Writer, st secretStore) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "put":
		if len(args) != 2 {
			return errUsage
		}
		name := strings.TrimSpace(args[1])
		value, err := readValue(stdin)
		if err != nil {
			return err
		}
		if err := st.PutSecret(domain.Secret{Name: name, Value: value, UpdatedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("store %s: %w", name, err)
		}
		fmt.Fprintf(stdout, "stored %s\n", name)
	case "list":
		names, err := st.ListSecretNames()
		if err != nil {
			return fmt.Errorf("list secrets: %w", err)
		}
		for _, n := range names {
			fmt.Fprintln(stdout, n)
		}
	case "delete":
		if len(args) != 2 {
			return errUsage
		}
		name := strings.TrimSpace(args[1])
		if err := st.DeleteSecret(name); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
		fmt.Fprintf(stdout, "deleted %s\n", name)
	default:
		return errUsage
	}
	return nil
}

// readValue takes the first line of stdin so values stay out of shell
// history.
func readValue(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read value: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty secret value on stdin")
	}
	return line, nil
}

func databaseURL() (string, error) {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v, nil
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		return "", err
	}
	return cfg.DatabaseURL, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s put NAME < value | list | delete NAME\n", os.Args[0])
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "secretctl: %v\n", err)
	os.Exit(1)
}
