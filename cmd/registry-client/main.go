package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/omnia-iot/omnia-backend/api/rpc"
	"github.com/omnia-iot/omnia-backend/challenge"
	"github.com/omnia-iot/omnia-backend/cmd/flags"
	"github.com/urfave/cli/v2"
)

var flagKey = &cli.StringFlag{
	Name:    "key",
	EnvVars: []string{"OMNIA_CLIENT_KEY"},
	Usage:   "hex-encoded secp256k1 private key signing the calls",
}

var (
	flagForwardedFor = &cli.StringFlag{
		Name:  "forwarded-for",
		Usage: "X-Forwarded-For sent with the challenge, for tests without a load balancer",
	}
	flagProxiedFor = &cli.StringFlag{
		Name:  "proxied-for",
		Usage: "X-Proxied-For sent with the challenge",
	}
	flagPeerID = &cli.StringFlag{
		Name:  "peer-id",
		Usage: "X-Peer-Id sent with the challenge",
	}
)

const usage = `Talk to the Omnia registry.

   registry-client keygen
   registry-client challenge N1 --forwarded-for 198.51.100.7
   registry-client --key <hex> call initGateway '{"nonce":"N1","principal_id":"P_G"}'`

func main() {
	app := &cli.App{
		Name:  "registry-client",
		Usage: usage,
		Flags: []cli.Flag{
			flags.ServerAddrFlag,
			flagKey,
		},
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "generate a signing key and print it with its principal",
				Action: func(cCtx *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					out, _ := json.Marshal(map[string]string{
						"private_key":  hex.EncodeToString(crypto.FromECDSA(key)),
						"principal_id": crypto.PubkeyToAddress(key.PublicKey).Hex(),
					})
					fmt.Println(string(out))
					return nil
				},
			},
			{
				Name:      "challenge",
				Usage:     "submit an IP challenge for a nonce",
				ArgsUsage: "<nonce>",
				Flags:     []cli.Flag{flagForwardedFor, flagProxiedFor, flagPeerID},
				Action: func(cCtx *cli.Context) error {
					nonce := cCtx.Args().First()
					if nonce == "" {
						return errors.New("missing nonce")
					}

					headers := http.Header{}
					setIfPresent(headers, challenge.HeaderForwardedFor, cCtx.String(flagForwardedFor.Name))
					setIfPresent(headers, challenge.HeaderProxiedFor, cCtx.String(flagProxiedFor.Name))
					setIfPresent(headers, challenge.HeaderPeerID, cCtx.String(flagPeerID.Name))

					// Challenges are unsigned; any key will do.
					key, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					client := rpc.NewClient(cCtx.String(flags.ServerAddrFlag.Name), key)
					if err := client.SubmitChallenge(cCtx.Context, nonce, headers); err != nil {
						return err
					}
					fmt.Println("challenge accepted")
					return nil
				},
			},
			{
				Name:      "call",
				Usage:     "invoke an RPC method and print its result",
				ArgsUsage: "<method> [json arguments]",
				Action: func(cCtx *cli.Context) error {
					method := cCtx.Args().Get(0)
					if method == "" {
						return fmt.Errorf("missing method, one of: %s", strings.Join(rpc.Methods(), ", "))
					}

					var args any
					if raw := cCtx.Args().Get(1); raw != "" {
						if !json.Valid([]byte(raw)) {
							return errors.New("arguments are not valid JSON")
						}
						args = json.RawMessage(raw)
					}

					keyHex := cCtx.String(flagKey.Name)
					if keyHex == "" {
						return errors.New("--key is required to sign calls")
					}
					key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
					if err != nil {
						return fmt.Errorf("invalid key: %w", err)
					}

					client := rpc.NewClient(cCtx.String(flags.ServerAddrFlag.Name), key)
					var result json.RawMessage
					if err := client.Call(cCtx.Context, method, args, &result); err != nil {
						return err
					}
					fmt.Println(string(result))
					return nil
				},
			},
			{
				Name:  "methods",
				Usage: "list the RPC methods",
				Action: func(cCtx *cli.Context) error {
					for _, name := range rpc.Methods() {
						guard := ""
						if rpc.BackendOnly(name) {
							guard = " (backend only)"
						}
						fmt.Println(name + guard)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setIfPresent(h http.Header, name, value string) {
	if value != "" {
		h.Set(name, value)
	}
}
