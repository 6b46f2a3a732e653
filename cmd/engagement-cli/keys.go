package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"engagement/auth"
	"engagement/cmd/internal/passphrase"
	"engagement/crypto"
)

const (
	keystorePassEnv = "ENGAGEMENT_KEYSTORE_PASS"
	hmacSecretEnv   = "ENGAGEMENT_AUTH_HMAC_SECRET"
)

var (
	passphraseFor = func() (string, error) {
		return passphrase.NewSource(keystorePassEnv, "operator keystore").Get()
	}
	tokenNow = time.Now
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "", "keystore file to create")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return printError(stderr, "--out is required")
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		return printError(stderr, fmt.Sprintf("%s exists; pass --force to overwrite", *out))
	}
	pass, err := passphraseFor()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	path := fs.String("keystore", "", "keystore file")
	create := fs.Bool("create", false, "generate the keystore when it does not exist")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*path) == "" {
		return printError(stderr, "--keystore is required")
	}
	pass, err := passphraseFor()
	if err != nil {
		return printError(stderr, err.Error())
	}
	var key *crypto.PrivateKey
	if *create {
		var fresh bool
		key, fresh, err = crypto.LoadOrCreateKeystore(*path, pass)
		if err == nil && fresh {
			fmt.Fprintf(stderr, "created %s\n", *path)
		}
	} else {
		key, err = crypto.LoadFromKeystore(*path, pass)
	}
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

// runToken issues a bearer token the way the Authorization Service does, for
// local development against a shared HMAC secret.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	identity := fs.String("identity", "", "bech32 or 0x address the token authenticates")
	scope := fs.String("scope", "", "space separated scopes")
	issuer := fs.String("issuer", "engagementd", "iss claim")
	audience := fs.String("audience", "engagement-rpc", "aud claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	secret := strings.TrimSpace(os.Getenv(hmacSecretEnv))
	if secret == "" {
		return printError(stderr, hmacSecretEnv+" must be set")
	}
	id, err := crypto.ParseIdentity(*identity)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--identity: %v", err))
	}
	iss, err := auth.NewIssuer(auth.IssuerConfig{
		HMACSecret: secret,
		Issuer:     *issuer,
		Audience:   *audience,
		TTL:        *ttl,
	})
	if err != nil {
		return printError(stderr, err.Error())
	}
	iss.SetNowFunc(tokenNow)
	token, err := iss.Issue(id, strings.Fields(*scope)...)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}
