package main

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordFromStdin(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader("s3cret-password\n"))
	rootCmd.SetArgs([]string{"hash-password"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-password")); err != nil {
		t.Fatalf("hash does not match: %v", err)
	}
}

func TestMigrateList(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"migrate", "--list"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	lines := strings.Fields(out.String())
	if len(lines) != 5 || lines[0] != "0001" {
		t.Fatalf("unexpected versions: %q", out.String())
	}
}
