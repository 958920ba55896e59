package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/duovault/duovault/vaultauth"
)

// readPassphrase prompts without echo when stdin is a terminal, and falls
// back to reading one line when input is piped.
func readPassphrase(prompt string) (vaultauth.SensitiveBytes, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		passphrase, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		return vaultauth.SensitiveBytes(passphrase), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return vaultauth.SensitiveBytes(strings.TrimRight(line, "\r\n")), nil
}

// readConfirmedPassphrase prompts twice and requires both entries to match.
func readConfirmedPassphrase(prompt string) (vaultauth.SensitiveBytes, error) {
	first, err := readPassphrase(prompt)
	if err != nil {
		return nil, err
	}
	second, err := readPassphrase("Confirm: ")
	if err != nil {
		first.Zero()
		return nil, err
	}
	defer second.Zero()
	if string(first) != string(second) {
		first.Zero()
		return nil, fmt.Errorf("passphrases do not match")
	}
	return first, nil
}
