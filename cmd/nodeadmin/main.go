package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/ruteri/secure-node-control/accounts"
	"github.com/ruteri/secure-node-control/api"
	"github.com/ruteri/secure-node-control/api/controlapi"
	"github.com/ruteri/secure-node-control/cmd/flags"
	"github.com/ruteri/secure-node-control/cryptoutils"
	"github.com/ruteri/secure-node-control/dyndns"
	"github.com/ruteri/secure-node-control/interfaces"
	"github.com/ruteri/secure-node-control/keyexport"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/term"
)

var flagNodeAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "node-addr",
	Value: "http://127.0.0.1:9092",
	Usage: "Control API address of the node daemon",
}
var flagWatch *cli.BoolFlag = &cli.BoolFlag{
	Name:  "watch",
	Value: false,
	Usage: "Keep polling and print every state change",
}
var flagResolve *cli.BoolFlag = &cli.BoolFlag{
	Name:  "resolve",
	Value: false,
	Usage: "Resolve each location's DynDNS hostname",
}
var flagLocationID *cli.StringFlag = &cli.StringFlag{
	Name:     "location",
	Required: true,
	Usage:    "Location id. 32-char hex string",
}
var flagAutologin *cli.BoolFlag = &cli.BoolFlag{
	Name:  "autologin",
	Value: false,
	Usage: "Mark the location for unattended unlock on later starts",
}
var flagPassword *cli.StringFlag = &cli.StringFlag{
	Name:  "password",
	Usage: "Passphrase; prompted for on the terminal when omitted",
}
var flagCancel *cli.BoolFlag = &cli.BoolFlag{
	Name:  "cancel",
	Value: false,
	Usage: "Cancel the pending password request instead of answering it",
}
var flagReject *cli.BoolFlag = &cli.BoolFlag{
	Name:  "reject",
	Value: false,
	Usage: "Reject the pending signature request instead of signing",
}
var flagKeyFile *cli.StringFlag = &cli.StringFlag{
	Name:  "key-file",
	Usage: "Path to an armored PGP key file",
}
var flagName *cli.StringFlag = &cli.StringFlag{
	Name:     "name",
	Required: true,
	Usage:    "Display name for the new location or identity",
}
var flagEmail *cli.StringFlag = &cli.StringFlag{
	Name:  "email",
	Usage: "Email for the new identity's user id",
}
var flagFingerprint *cli.StringFlag = &cli.StringFlag{
	Name:     "fingerprint",
	Required: true,
	Usage:    "PGP identity fingerprint. 40-char hex string",
}
var flagLocationDynDNS *cli.StringFlag = &cli.StringFlag{
	Name:  "dyndns",
	Usage: "DynDNS hostname the new location keeps pointed at the node",
}
var flagIncludeSecret *cli.BoolFlag = &cli.BoolFlag{
	Name:  "include-secret",
	Value: true,
	Usage: "Include the secret key in the backup",
}
var flagExportTo *cli.StringFlag = &cli.StringFlag{
	Name:     "to",
	Required: true,
	Usage:    "Backup destination URI (file://, s3://, ipfs://)",
}
var flagShamir *cli.StringFlag = &cli.StringFlag{
	Name:  "shamir",
	Usage: "Split the backup into Shamir shares, K/N (e.g. 2/3)",
}
var flagRestoreFrom *cli.StringFlag = &cli.StringFlag{
	Name:     "from",
	Required: true,
	Usage:    "Backup source URI (file://, s3://, ipfs://)",
}
var flagRestoreObjects *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:     "object",
	Required: true,
	Usage:    "Object name to fetch; repeat for Shamir shares",
}
var flagRestoreOut *cli.StringFlag = &cli.StringFlag{
	Name:  "out",
	Value: "restored-identity.asc",
	Usage: "File to write the restored identity to",
}

func main() {
	app := &cli.App{
		Name:           "nodeadmin",
		Usage:          "Drive a node's login sequence and manage its identities",
		DefaultCommand: "status",
		Commands: []*cli.Command{
			&cli.Command{
				Name:        "status",
				Usage:       "Print the node's run state",
				Description: "Prints the current status snapshot. With --watch it keeps polling and prints a fresh snapshot on every change token bump.",
				Flags: []cli.Flag{
					flagNodeAddr,
					flagWatch,
				},
				Action: func(cCtx *cli.Context) error {
					client := controlapi.NewClient(cCtx.String(flagNodeAddr.Name))
					status, err := client.Status(cCtx.Context)
					if err != nil {
						return err
					}
					if err := printStatus(status); err != nil {
						return err
					}

					for cCtx.Bool(flagWatch.Name) {
						status, err = client.WaitForToken(cCtx.Context, status.ChangeToken, 0, 0)
						if err != nil {
							return err
						}
						if err := printStatus(status); err != nil {
							return err
						}
					}
					return nil
				},
			},
			&cli.Command{
				Name:  "identities",
				Usage: "List the PGP identities in the node keyring",
				Flags: []cli.Flag{
					flagNodeAddr,
				},
				Action: func(cCtx *cli.Context) error {
					client := controlapi.NewClient(cCtx.String(flagNodeAddr.Name))
					identities, err := client.Identities(cCtx.Context)
					if err != nil {
						return err
					}

					for _, identity := range identities {
						material := "public only"
						if identity.HasSecretKey {
							material = "public+secret"
						}
						fmt.Printf("%s  %-30s %s\n", identity.Fingerprint.String(), identity.Name, material)
					}
					return nil
				},
			},
			&cli.Command{
				Name:  "locations",
				Usage: "List the node locations known to the daemon",
				Flags: []cli.Flag{
					flagNodeAddr,
					flagResolve,
					flags.DynDNSServerFlag,
				},
				Action: func(cCtx *cli.Context) error {
					client := controlapi.NewClient(cCtx.String(flagNodeAddr.Name))
					locations, err := client.Locations(cCtx.Context)
					if err != nil {
						return err
					}

					resolver := dyndns.NewResolver(cCtx.String(flags.DynDNSServerFlag.Name))
					for _, location := range locations {
						fmt.Printf("%s  %-30s identity=%s (%s) autologin=%v\n",
							location.ID.String(), location.Name, location.Identity.String(), location.IdentityName, location.Autologin)
						if !cCtx.Bool(flagResolve.Name) || location.DynDNSHost == "" {
							continue
						}
						addrs, err := resolver.Resolve(location.DynDNSHost)
						if err != nil {
							fmt.Printf("    dyndns %s: %v\n", location.DynDNSHost, err)
							continue
						}
						fmt.Printf("    dyndns %s -> %s\n", location.DynDNSHost, strings.Join(addrs, ", "))
					}
					return nil
				},
			},
			&cli.Command{
				Name:        "select",
				Usage:       "Select a location for unlock",
				Description: "Kicks the waiting daemon into the unlock sequence for the given location. Follow up with 'status --watch' and 'password' or 'sign'.",
				Flags: []cli.Flag{
					flagNodeAddr,
					flagLocationID,
					flagAutologin,
				},
				Action: func(cCtx *cli.Context) error {
					id, err := interfaces.NewLocationIDFromHex(cCtx.String(flagLocationID.Name))
					if err != nil {
						return err
					}

					client := controlapi.NewClient(cCtx.String(flagNodeAddr.Name))
					if err := client.Login(cCtx.Context, id, cCtx.Bool(flagAutologin.Name)); err != nil {
						return err
					}
					fmt.Println("location selected")
					return nil
				},
			},
			&cli.Command{
				Name:  "password",
				Usage: "Answer the pending password request",
				Flags: []cli.Flag{
					flagNodeAddr,
					flagPassword,
					flagCancel,
				},
				Action: func(cCtx *cli.Context) error {
					client := controlapi.NewClient(cCtx.String(flagNodeAddr.Name))
					if cCtx.Bool(flagCancel.Name) {
						return client.SupplyPassword(cCtx.Context, "", true)
					}

					password := cCtx.String(flagPassword.Name)
					if password == "" {
						var err error
						password, err = readPassphrase("Passphrase: ")
						if err != nil {
							return err
						}
					}
					return client.SupplyPassword(cCtx.Context, password, false)
				},
			},
			&cli.Command{
				Name:        "sign",
				Usage:       "Answer the pending signature request with a local key",
				Description: "Fetches the pending challenge, produces an armored detached signature with the secret key in --key-file and submits it. Use --reject to refuse instead.",
				Flags: []cli.Flag{
					flagNodeAddr,
					flagKeyFile,
					flagReject,
				},
				Action: func(cCtx *cli.Context) error {
					client := controlapi.NewClient(cCtx.String(flagNodeAddr.Name))
					if cCtx.Bool(flagReject.Name) {
						return client.ConfirmSignature(cCtx.Context, nil, true)
					}

					keyFile := cCtx.String(flagKeyFile.Name)
					if keyFile == "" {
						return errors.New("either --key-file or --reject is required")
					}

					status, err := client.Status(cCtx.Context)
					if err != nil {
						return err
					}
					if status.PendingRequest == nil || status.PendingRequest.Kind != "signature" {
						return errors.New("no signature request is pending")
					}
					fmt.Printf("signing: %s\n", status.PendingRequest.SignReason)

					signer, err := loadSigningEntity(keyFile)
					if err != nil {
						return err
					}

					var signature bytes.Buffer
					payload := bytes.NewReader(status.PendingRequest.SignPayload)
					if err := openpgp.ArmoredDetachSign(&signature, signer, payload, nil); err != nil {
						return fmt.Errorf("failed to sign challenge: %w", err)
					}

					if err := client.ConfirmSignature(cCtx.Context, signature.Bytes(), false); err != nil {
						return err
					}
					fmt.Println("signature submitted")
					return nil
				},
			},
			&cli.Command{
				Name:  "shutdown",
				Usage: "Ask the daemon to shut down",
				Flags: []cli.Flag{
					flagNodeAddr,
				},
				Action: func(cCtx *cli.Context) error {
					client := controlapi.NewClient(cCtx.String(flagNodeAddr.Name))
					if err := client.Shutdown(cCtx.Context); err != nil {
						return err
					}
					fmt.Println("shutdown requested")
					return nil
				},
			},
			&cli.Command{
				Name:  "import-pgp",
				Usage: "Import an armored PGP key into the node keyring",
				Flags: []cli.Flag{
					flagNodeAddr,
					flagKeyFile,
				},
				Action: func(cCtx *cli.Context) error {
					keyFile := cCtx.String(flagKeyFile.Name)
					if keyFile == "" {
						return errors.New("--key-file is required")
					}
					armored, err := os.ReadFile(keyFile)
					if err != nil {
						return err
					}

					client := controlapi.NewClient(cCtx.String(flagNodeAddr.Name))
					fingerprint, err := client.ImportPgpKey(cCtx.Context, armored)
					if err != nil {
						return err
					}
					fmt.Println(fingerprint.String())
					return nil
				},
			},
			&cli.Command{
				Name:  "create-location",
				Usage: "Create a new location under an existing identity",
				Flags: []cli.Flag{
					flagNodeAddr,
					flagName,
					flagFingerprint,
					flagPassword,
					flagAutologin,
					flagLocationDynDNS,
				},
				Action: func(cCtx *cli.Context) error {
					fingerprint, err := interfaces.NewPgpFingerprintFromHex(cCtx.String(flagFingerprint.Name))
					if err != nil {
						return err
					}

					password := cCtx.String(flagPassword.Name)
					if password == "" {
						password, err = readPassphrase("Passphrase for the new location: ")
						if err != nil {
							return err
						}
					}

					client := controlapi.NewClient(cCtx.String(flagNodeAddr.Name))
					id, err := client.CreateLocation(cCtx.Context, api.CreateLocationRequest{
						Name:        cCtx.String(flagName.Name),
						Fingerprint: fingerprint,
						Password:    password,
						Autologin:   cCtx.Bool(flagAutologin.Name),
						DynDNSHost:  cCtx.String(flagLocationDynDNS.Name),
					})
					if err != nil {
						return err
					}
					fmt.Println(id.String())
					return nil
				},
			},
			&cli.Command{
				Name:        "create-identity",
				Usage:       "Generate a fresh PGP identity in a local data directory",
				Description: "Works directly on the data directory, not through the daemon. Run it on the node host while the daemon is stopped, or point it at a staging directory.",
				Flags: []cli.Flag{
					flags.DataDirFlag,
					flagName,
					flagEmail,
				},
				Action: func(cCtx *cli.Context) error {
					engine, err := accounts.New(accounts.Config{
						DataDir: cCtx.String(flags.DataDirFlag.Name),
					})
					if err != nil {
						return err
					}

					fingerprint, err := engine.CreateIdentity(cCtx.Context, cCtx.String(flagName.Name), cCtx.String(flagEmail.Name))
					if err != nil {
						return err
					}
					fmt.Println(fingerprint.String())
					return nil
				},
			},
			&cli.Command{
				Name:        "export",
				Usage:       "Back an identity up to a file, S3 or IPFS destination",
				Description: "Exports the armored identity from a local data directory and stores it at the given URI. With --shamir K/N the backup is split into N shares of which any K reconstruct it; each share is stored as its own object.",
				Flags: []cli.Flag{
					flags.DataDirFlag,
					flagFingerprint,
					flagIncludeSecret,
					flagExportTo,
					flagShamir,
				},
				Action: func(cCtx *cli.Context) error {
					fingerprint, err := interfaces.NewPgpFingerprintFromHex(cCtx.String(flagFingerprint.Name))
					if err != nil {
						return err
					}

					engine, err := accounts.New(accounts.Config{
						DataDir: cCtx.String(flags.DataDirFlag.Name),
					})
					if err != nil {
						return err
					}

					armored, err := engine.ExportIdentity(cCtx.Context, fingerprint, cCtx.Bool(flagIncludeSecret.Name))
					if err != nil {
						return err
					}

					backend, err := keyexport.NewBackendFromURI(cCtx.String(flagExportTo.Name), nil)
					if err != nil {
						return err
					}
					if !backend.Available(cCtx.Context) {
						return fmt.Errorf("backup destination %s is unavailable", backend.Name())
					}

					shamirSpec := cCtx.String(flagShamir.Name)
					if shamirSpec == "" {
						uri, err := backend.Store(cCtx.Context, fingerprint.String()+".asc", armored)
						if err != nil {
							return err
						}
						fmt.Println(uri)
						return nil
					}

					threshold, total, err := parseShamirSpec(shamirSpec)
					if err != nil {
						return err
					}
					shares, err := keyexport.SplitSecret(armored, threshold, total)
					if err != nil {
						return err
					}
					for i, share := range shares {
						uri, err := backend.Store(cCtx.Context, fmt.Sprintf("%s.share-%d", fingerprint.String(), i+1), share)
						if err != nil {
							return err
						}
						fmt.Printf("share %d/%d: %s\n", i+1, total, uri)
					}
					fmt.Printf("any %d shares restore the identity\n", threshold)
					return nil
				},
			},
			&cli.Command{
				Name:        "restore",
				Usage:       "Fetch a backup, recombining Shamir shares if needed",
				Description: "Fetches the named objects from the backup source. A single object is taken as a plain backup; multiple objects are recombined as Shamir shares. The result is checked to be armored PGP key material before it is written out.",
				Flags: []cli.Flag{
					flagRestoreFrom,
					flagRestoreObjects,
					flagRestoreOut,
				},
				Action: func(cCtx *cli.Context) error {
					backend, err := keyexport.NewBackendFromURI(cCtx.String(flagRestoreFrom.Name), nil)
					if err != nil {
						return err
					}

					names := cCtx.StringSlice(flagRestoreObjects.Name)
					parts := make([][]byte, 0, len(names))
					for _, name := range names {
						data, err := backend.Fetch(cCtx.Context, name)
						if err != nil {
							return fmt.Errorf("failed to fetch %s: %w", name, err)
						}
						parts = append(parts, data)
					}

					restored := parts[0]
					if len(parts) > 1 {
						restored, err = keyexport.CombineShares(parts)
						if err != nil {
							return err
						}
					}

					// Wrong or too few shares recombine into garbage; refuse
					// to write anything that does not parse as key material.
					if _, err := cryptoutils.NewArmoredKeyring(restored); err != nil {
						return fmt.Errorf("restored data is not a PGP key (wrong shares?): %w", err)
					}

					out := cCtx.String(flagRestoreOut.Name)
					if err := os.WriteFile(out, restored, 0600); err != nil {
						return err
					}
					fmt.Printf("restored identity written to %s\n", out)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func printStatus(status *api.StatusResponse) error {
	encoded, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(raw), nil
}

// loadSigningEntity reads an armored key file and returns the first entity
// holding a secret key.
func loadSigningEntity(path string) (*openpgp.Entity, error) {
	armored, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	for _, entity := range entities {
		if entity.PrivateKey != nil {
			return entity, nil
		}
	}
	return nil, fmt.Errorf("%s does not contain a secret key", path)
}

func parseShamirSpec(spec string) (threshold, shares int, err error) {
	left, right, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid shamir spec %q, expected K/N", spec)
	}
	threshold, err = strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid shamir threshold %q: %w", left, err)
	}
	shares, err = strconv.Atoi(strings.TrimSpace(right))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid shamir share count %q: %w", right, err)
	}
	return threshold, shares, nil
}
