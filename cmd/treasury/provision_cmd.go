package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/audit"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/custody"
)

// runProvisionCmd implements `treasury provision`: seal a key into custody.
func runProvisionCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("provision", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		owner      string
		roleName   string
		kind       string
		secretFile string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to YAML config")
	cmd.StringVar(&owner, "owner", "", "Realm id (treasury) or agent id (REQUIRED)")
	cmd.StringVar(&roleName, "role", "treasury", "Key role: treasury, agent or delegated")
	cmd.StringVar(&kind, "kind", "", "Authority kind (default by role)")
	cmd.StringVar(&secretFile, "secret-file", "", "File holding the secret: raw bytes, base58 or JSON array (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if owner == "" || secretFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --owner and --secret-file are required")
		return 2
	}
	role, err := contracts.ParseRole(roleName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	secret, err := readSecretFile(secretFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer wipe(secret)

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	ctx := context.Background()
	s, err := setup(ctx, cfg, stderr, true)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer s.Close(ctx)

	ctx = audit.WithActor(ctx, "operator")
	rec, err := s.custody.Store(ctx, custody.StoreRequest{
		OwnerID:       owner,
		Role:          role,
		AuthorityKind: contracts.AuthorityKind(kind),
		Secret:        secret,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%sProvision failed:%s %v\n", ColorRed+ColorBold, ColorReset, err)
		return 1
	}
	_ = audit.NewLoggerWithWriter(stderr).Record(ctx, audit.EventCustody, "custody.store", "owner/"+owner, map[string]any{
		"role":       role.String(),
		"public_key": rec.PublicKey,
	})

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rec)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "%sProvisioned%s %s key for %s\n", ColorGreen+ColorBold, ColorReset, role, owner)
	_, _ = fmt.Fprintf(stdout, "  public key:  %s\n", rec.PublicKey)
	_, _ = fmt.Fprintf(stdout, "  authority:   %s\n", rec.AuthorityKind)
	_, _ = fmt.Fprintf(stdout, "  fingerprint: %s\n", rec.KeyFingerprint)
	return 0
}

// readSecretFile keeps raw seed or keypair bytes as-is and trims text forms.
func readSecretFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	if len(b) == ed25519.SeedSize || len(b) == ed25519.PrivateKeySize {
		return b, nil
	}
	trimmed := bytes.TrimSpace(b)
	out := append([]byte(nil), trimmed...)
	wipe(b)
	return out, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
