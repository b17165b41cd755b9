package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/samber/do/v2"
	"github.com/vreid/cluehunt/internal/pkg/blobstore"
	"github.com/vreid/cluehunt/internal/pkg/broker"
	"github.com/vreid/cluehunt/internal/pkg/common"
	"github.com/vreid/cluehunt/internal/pkg/encryption"
	"github.com/vreid/cluehunt/internal/pkg/hunt"
	"github.com/vreid/cluehunt/internal/pkg/ledger"
	"github.com/vreid/cluehunt/internal/pkg/node"
	"github.com/vreid/cluehunt/internal/pkg/threshold"
	"github.com/vreid/cluehunt/internal/pkg/verifier"

	"github.com/urfave/cli/v3"
)

type HuntServer struct {
	EchoService *common.EchoService `do:""`

	BlobStore   *blobstore.BlobStore `do:""`
	HuntService *hunt.HuntService    `do:""`
}

type NodeServer struct {
	EchoService *common.EchoService `do:""`

	NodeService *node.NodeService `do:""`
}

func provideCommon(i do.Injector, cmd *cli.Command, component string) {
	do.ProvideNamedValue(i, "component", component)
	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))
	do.ProvideNamedValue(i, "log-level", cmd.String("log-level"))

	do.Provide(i, common.NewLogger)
	do.Provide(i, common.NewRegistry)
	do.Provide(i, common.NewEchoService)
	do.Provide(i, common.NewDatabaseService)
}

// serve runs the echo server until ctx is cancelled, then shuts the
// injector down.
func serve(ctx context.Context, i *do.RootScope, echoService *common.EchoService) error {
	go func() {
		<-ctx.Done()

		_ = i.Shutdown()
	}()

	err := echoService.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	i := do.New()

	provideCommon(i, cmd, "server")

	do.ProvideNamedValue(i, "cipher-key", cmd.String("cipher-key"))
	do.ProvideNamedValue(i, "clue-backend", cmd.String("clue-backend"))
	do.ProvideNamedValue(i, "distance-threshold", cmd.Float("distance-threshold"))
	do.ProvideNamedValue(i, "similarity-threshold", cmd.Float("similarity-threshold"))
	do.ProvideNamedValue(i, "attesters", cmd.StringSlice("attesters"))
	do.ProvideNamedValue(i, "identity-key", cmd.String("identity-key"))
	do.ProvideNamedValue(i, "chain", cmd.String("chain"))

	do.ProvideNamedValue(i, "nodes", cmd.StringSlice("nodes"))
	do.ProvideNamedValue(i, "threshold", cmd.Int("threshold"))
	do.ProvideNamedValue(i, "master-public-key", cmd.String("master-public-key"))
	do.ProvideNamedValue(i, "node-timeout", cmd.Duration("node-timeout"))
	do.ProvideNamedValue(i, "verify-timeout", cmd.Duration("verify-timeout"))
	do.ProvideNamedValue(i, "max-attempts", cmd.Int("max-attempts"))

	do.ProvideNamedValue(i, "gateway-url", cmd.String("gateway-url"))
	do.ProvideNamedValue(i, "valkey-addr", cmd.String("valkey-addr"))
	do.ProvideNamedValue(i, "ledger-namespace", cmd.String("ledger-namespace"))

	do.Provide(i, threshold.NewIdentityKeyService)
	do.Provide(i, threshold.NewClientService)
	do.Provide(i, encryption.NewLocalCipherService)
	do.Provide(i, encryption.NewThresholdCipherService)
	do.Provide(i, blobstore.NewBlobStoreService)
	do.Provide(i, broker.NewBrokerService)
	do.Provide(i, ledger.NewLedgerService)
	do.Provide(i, hunt.NewHuntService)

	do.Provide(i, do.InvokeStruct[HuntServer])

	huntServer, err := do.Invoke[HuntServer](i)
	if err != nil {
		return fmt.Errorf("failed to create hunt server: %w", err)
	}

	return serve(ctx, i, huntServer.EchoService)
}

func runNode(ctx context.Context, cmd *cli.Command) error {
	i := do.New()

	provideCommon(i, cmd, "node")

	do.ProvideNamedValue(i, "index", cmd.Int("index"))
	do.ProvideNamedValue(i, "threshold", cmd.Int("threshold"))
	do.ProvideNamedValue(i, "share", cmd.String("share"))
	do.ProvideNamedValue(i, "master-public-key", cmd.String("master-public-key"))
	do.ProvideNamedValue(i, "peers", cmd.StringSlice("peers"))
	do.ProvideNamedValue(i, "node-timeout", cmd.Duration("node-timeout"))
	do.ProvideNamedValue(i, "rate-limit", cmd.Float("rate-limit"))
	do.ProvideNamedValue(i, "chain-rpc", cmd.StringSlice("chain-rpc"))

	do.Provide(i, threshold.NewChainReaderService)
	do.Provide(i, node.NewNodeService)

	do.Provide(i, do.InvokeStruct[NodeServer])

	nodeServer, err := do.Invoke[NodeServer](i)
	if err != nil {
		return fmt.Errorf("failed to create node server: %w", err)
	}

	return serve(ctx, i, nodeServer.EchoService)
}

type identityOutput struct {
	Key     string `json:"identity_key"`
	Address string `json:"address"`
}

func runKeygen(_ context.Context, cmd *cli.Command) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	if cmd.Bool("identity") {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate identity key: %w", err)
		}

		//nolint:wrapcheck
		return encoder.Encode(identityOutput{
			Key:     hex.EncodeToString(crypto.FromECDSA(key)),
			Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		})
	}

	keys, err := threshold.GenerateKey(cmd.Int("threshold"), cmd.Int("nodes"))
	if err != nil {
		return fmt.Errorf("failed to generate threshold key: %w", err)
	}

	//nolint:wrapcheck
	return encoder.Encode(keys.Manifest())
}

func commonFlags(defaultPort int, component string) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Value:   defaultPort,
			Sources: cli.EnvVars("HUNT_PORT"),
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Value:   "./cluehunt/" + component,
			Sources: cli.EnvVars("HUNT_DATA_DIR"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Sources: cli.EnvVars("HUNT_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "master-public-key",
			Sources: cli.EnvVars("HUNT_MASTER_PUBLIC_KEY"),
		},
		&cli.IntFlag{
			Name:    "threshold",
			Value:   2, //nolint:mnd
			Sources: cli.EnvVars("HUNT_THRESHOLD"),
		},
		&cli.DurationFlag{
			Name:    "node-timeout",
			Value:   threshold.DefaultNodeTimeout,
			Sources: cli.EnvVars("HUNT_NODE_TIMEOUT"),
		},
	}
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//nolint:exhaustruct
	cmd := &cli.Command{
		Name: "cluehunt",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: append(commonFlags(3000, "server"), //nolint:mnd
					&cli.StringFlag{
						Name:    "cipher-key",
						Sources: cli.EnvVars("HUNT_CIPHER_KEY"),
					},
					&cli.StringFlag{
						Name:    "clue-backend",
						Value:   hunt.ClueBackendThreshold,
						Sources: cli.EnvVars("HUNT_CLUE_BACKEND"),
					},
					&cli.FloatFlag{
						Name:    "distance-threshold",
						Value:   verifier.DefaultDistanceThreshold,
						Sources: cli.EnvVars("HUNT_DISTANCE_THRESHOLD"),
					},
					&cli.FloatFlag{
						Name:    "similarity-threshold",
						Value:   verifier.DefaultSimilarityThreshold,
						Sources: cli.EnvVars("HUNT_SIMILARITY_THRESHOLD"),
					},
					&cli.StringSliceFlag{
						Name:    "attesters",
						Sources: cli.EnvVars("HUNT_ATTESTERS"),
					},
					&cli.StringFlag{
						Name:    "identity-key",
						Sources: cli.EnvVars("HUNT_IDENTITY_KEY"),
					},
					&cli.StringFlag{
						Name:    "chain",
						Value:   "ethereum",
						Sources: cli.EnvVars("HUNT_CHAIN"),
					},
					&cli.StringSliceFlag{
						Name:    "nodes",
						Sources: cli.EnvVars("HUNT_NODES"),
					},
					&cli.DurationFlag{
						Name:    "verify-timeout",
						Value:   broker.DefaultAttemptTimeout,
						Sources: cli.EnvVars("HUNT_VERIFY_TIMEOUT"),
					},
					&cli.IntFlag{
						Name:    "max-attempts",
						Value:   broker.DefaultMaxAttempts,
						Sources: cli.EnvVars("HUNT_MAX_ATTEMPTS"),
					},
					&cli.StringFlag{
						Name:    "gateway-url",
						Sources: cli.EnvVars("HUNT_GATEWAY_URL"),
					},
					&cli.StringFlag{
						Name:    "valkey-addr",
						Sources: cli.EnvVars("HUNT_VALKEY_ADDR"),
					},
					&cli.StringFlag{
						Name:    "ledger-namespace",
						Value:   ledger.DefaultNamespace,
						Sources: cli.EnvVars("HUNT_LEDGER_NAMESPACE"),
					},
				),
				Action: runServer,
			},
			{
				Name: "node",
				Flags: append(commonFlags(7470, "node"), //nolint:mnd
					&cli.IntFlag{
						Name:    "index",
						Sources: cli.EnvVars("HUNT_NODE_INDEX"),
					},
					&cli.StringFlag{
						Name:    "share",
						Sources: cli.EnvVars("HUNT_NODE_SHARE"),
					},
					&cli.StringSliceFlag{
						Name:    "peers",
						Sources: cli.EnvVars("HUNT_NODE_PEERS"),
					},
					&cli.FloatFlag{
						Name:    "rate-limit",
						Value:   50, //nolint:mnd
						Sources: cli.EnvVars("HUNT_NODE_RATE_LIMIT"),
					},
					&cli.StringSliceFlag{
						Name:    "chain-rpc",
						Sources: cli.EnvVars("HUNT_CHAIN_RPC"),
					},
				),
				Action: runNode,
			},
			{
				Name: "keygen",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "threshold",
						Value: 2, //nolint:mnd
					},
					&cli.IntFlag{
						Name:  "nodes",
						Value: 3, //nolint:mnd
					},
					&cli.BoolFlag{
						Name: "identity",
					},
				},
				Action: runKeygen,
			},
		},
		DefaultCommand: "server",
	}

	err := cmd.Run(ctx, os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
