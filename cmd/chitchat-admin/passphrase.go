// ABOUTME: Backup passphrase and confirmation prompts
// ABOUTME: Reads from CHITCHAT_BACKUP_PASSPHRASE or prompts on the terminal without echo

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const passphraseEnv = "CHITCHAT_BACKUP_PASSPHRASE"

// Test seams for the terminal
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// readPassphrase returns the backup passphrase. With confirm set the user
// types it twice.
func readPassphrase(confirm bool) (string, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; set %s", passphraseEnv)
	}

	p, err := prompt(fd, "Backup passphrase: ")
	if err != nil {
		return "", err
	}
	if !confirm {
		return p, nil
	}

	again, err := prompt(fd, "Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if p != again {
		return "", errors.New("passphrases do not match")
	}
	return p, nil
}

func prompt(fd int, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := readPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// confirmAction asks a yes/no question on in. Only "y" or "yes" confirm.
func confirmAction(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
