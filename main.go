package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfg "github.com/cometbft/cometbft/config"
	"github.com/cometbft/cometbft/crypto/ed25519"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ahmadzakiakmal/estatechain/app"
	"github.com/ahmadzakiakmal/estatechain/authority"
	"github.com/ahmadzakiakmal/estatechain/bench"
	"github.com/ahmadzakiakmal/estatechain/client"
	"github.com/ahmadzakiakmal/estatechain/config"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/metrics"
	"github.com/ahmadzakiakmal/estatechain/publisher"
	"github.com/ahmadzakiakmal/estatechain/repository"
	"github.com/ahmadzakiakmal/estatechain/server"
	"github.com/ahmadzakiakmal/estatechain/srvreg"
	"github.com/ahmadzakiakmal/estatechain/tx"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var homeDir string
	cmd := &cobra.Command{
		Use:          "estatechain",
		Short:        "Real estate registry, auctions and leases on CometBFT",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&homeDir, "cmt-home", "./node-config/estate-node", "Path to the CometBFT config directory")

	cmd.AddCommand(newStartCommand(&homeDir))
	cmd.AddCommand(newKeysCommand())
	cmd.AddCommand(newTxCommand())
	cmd.AddCommand(newBenchCommand())
	return cmd
}

func newStartCommand(homeDir *string) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the node and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := *homeDir
			if home == "" {
				home = os.ExpandEnv("$HOME/.cometbft")
			}
			conf, err := config.Load(v, home)
			if err != nil {
				return err
			}
			return runNode(conf)
		},
	}
	flags := cmd.Flags()
	flags.String("http-port", "5000", "HTTP web server port")
	flags.String("postgres-dsn", "", "Projection database DSN, prefix with sqlite: for SQLite")
	flags.String("kafka-brokers", "", "Comma separated Kafka seed brokers, empty disables publishing")
	flags.String("kafka-topic", "estate-events", "Kafka topic for committed events")
	flags.Bool("log-all-txs", false, "Log every executed transaction")
	for key, flag := range map[string]string{
		config.KeyHTTPPort:     "http-port",
		config.KeyPostgresDSN:  "postgres-dsn",
		config.KeyKafkaBrokers: "kafka-brokers",
		config.KeyKafkaTopic:   "kafka-topic",
		config.KeyLogAllTxs:    "log-all-txs",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func runNode(conf *config.Config) error {
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err := cmtflags.ParseLogLevel(conf.Comet.LogLevel, logger, cfg.DefaultLogLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	// Projection database
	repo := repository.NewRepository(logger)
	if err := repo.ConnectDB(conf.PostgresDSN, conf.DBAttempts, 2*time.Second); err != nil {
		return err
	}
	if err := repo.Migrate(); err != nil {
		return err
	}

	// Initialize Badger DB
	badgerPath := filepath.Join(conf.Home, "badger")
	db, err := badger.Open(badger.DefaultOptions(badgerPath))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Closing database", "err", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry)

	sinks := []app.EventSink{repo}
	if conf.KafkaEnabled() {
		pub, err := publisher.New(conf.KafkaBrokers, conf.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		logger.Info("Publishing committed events", "brokers", conf.KafkaBrokers, "topic", conf.KafkaTopic)
	}

	// Create ABCI Application
	appConfig := &app.AppConfig{
		NodeID:      filepath.Base(conf.Home), // Use directory name until the node is up
		LogAllTxs:   conf.LogAllTxs,
		SinkTimeout: conf.SinkTimeout,
	}
	serviceRegistry := srvreg.NewServiceRegistry(logger)
	application := app.NewABCIApplication(db, authority.New(), serviceRegistry, appConfig, logger, appMetrics, sinks...)

	// Private Validator
	pv := privval.LoadFilePV(
		conf.Comet.PrivValidatorKeyFile(),
		conf.Comet.PrivValidatorStateFile(),
	)

	// P2P network identity
	nodeKey, err := p2p.LoadNodeKey(conf.Comet.NodeKeyFile())
	if err != nil {
		return fmt.Errorf("failed to load node's key: %w", err)
	}

	// Initialize CometBFT node
	node, err := nm.NewNode(
		context.Background(),
		conf.Comet,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(application),
		nm.DefaultGenesisDocProviderFunc(conf.Comet),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(conf.Comet.Instrumentation),
		logger,
	)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}
	application.SetNodeID(string(node.NodeInfo().ID()))

	rpcClient := cmtrpc.New(node)
	repo.SetupRpcClient(rpcClient)

	if err := node.Start(); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	defer func() {
		node.Stop()
		node.Wait()
	}()

	webserver := server.NewWebServer(server.Config{
		HTTPPort:      conf.HTTPPort,
		NodeID:        application.NodeID(),
		RPCAddress:    conf.Comet.RPC.ListenAddress,
		P2PAddress:    conf.Comet.P2P.ListenAddress,
		CommitTimeout: conf.CommitTimeout,
	}, logger, rpcClient, repo, registry)
	if err := webserver.Start(); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("Shutting down HTTP web server", "err", err)
	}
	logger.Info("HTTP web server gracefully stopped")
	return nil
}

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage account keys",
	}
	var out string
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Generate an ed25519 account key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := client.NewKeyFile()
			if err := key.Save(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", key.Address)
			return nil
		},
	}
	newCmd.Flags().StringVar(&out, "out", "key.json", "Where to write the key")
	cmd.AddCommand(newCmd)
	return cmd
}

func newTxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Build, sign and submit transactions",
	}
	var (
		keyPath string
		nodeURL string
		msgType string
		payload string
		value   string
		ether   string
	)
	send := &cobra.Command{
		Use:   "send",
		Short: "Sign a message and wait for it to be committed",
		Example: `  estatechain tx send --type register_property \
    --payload '{"address":"1 Main St","size":120,"property_type":"house","document_hash":"Qm..."}'
  estatechain tx send --type place_bid --payload '{"property_id":1}' --ether 2.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keyFile, err := client.LoadKeyFile(keyPath)
			if err != nil {
				return err
			}
			amount, err := parseValue(value, ether)
			if err != nil {
				return err
			}
			var body any
			if payload != "" {
				body = json.RawMessage(payload)
			}
			msg, err := tx.NewMsg(msgType, body)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c := client.NewHTTPClient(nodeURL)
			acc, err := c.Account(ctx, keyFile.Address)
			if err != nil {
				return fmt.Errorf("reading account: %w", err)
			}
			key, err := keyFile.Key()
			if err != nil {
				return err
			}
			t := &tx.Tx{Nonce: acc.Nonce, Value: amount, Msg: msg}
			if err := t.Sign(key); err != nil {
				return err
			}
			res, err := c.SubmitTx(ctx, t)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	flags := send.Flags()
	flags.StringVar(&keyPath, "key", "key.json", "Key file of the sender")
	flags.StringVar(&nodeURL, "node", "http://localhost:5000", "HTTP address of a node")
	flags.StringVar(&msgType, "type", "", "Message type, e.g. place_bid")
	flags.StringVar(&payload, "payload", "", "JSON payload of the message")
	flags.StringVar(&value, "value", "", "Attached value in wei")
	flags.StringVar(&ether, "ether", "", "Attached value in ether")
	_ = send.MarkFlagRequired("type")
	send.MarkFlagsMutuallyExclusive("value", "ether")
	cmd.AddCommand(send)
	return cmd
}

func newBenchCommand() *cobra.Command {
	var (
		keyPath    string
		notaryPath string
		nodeURL    string
		iterations int
		pause      time.Duration
		out        string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure commit latency of a register, approve, list and cancel round",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := loadKey(keyPath)
			if err != nil {
				return err
			}
			notary, err := loadKey(notaryPath)
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("benchmark_n_%d.csv", iterations)
			}
			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating CSV file: %w", err)
			}
			defer file.Close()

			logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(cmd.ErrOrStderr()))
			runner := bench.NewRunner(client.NewHTTPClient(nodeURL), owner, notary, pause, logger)
			results, runErr := runner.Run(cmd.Context(), iterations)
			if err := bench.WriteCSV(file, results); err != nil {
				return fmt.Errorf("writing CSV: %w", err)
			}
			if runErr != nil {
				return runErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Benchmark complete. Results saved to %s\n", out)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&keyPath, "key", "key.json", "Key file of the property owner")
	flags.StringVar(&notaryPath, "notary-key", "notary.json", "Key file of the notary")
	flags.StringVar(&nodeURL, "node", "http://localhost:5000", "HTTP address of a node")
	flags.IntVarP(&iterations, "iterations", "n", 1, "Number of iterations to run")
	flags.DurationVar(&pause, "pause", 100*time.Millisecond, "Pause between steps")
	flags.StringVar(&out, "out", "", "CSV output file")
	return cmd
}

func loadKey(path string) (ed25519.PrivKey, error) {
	keyFile, err := client.LoadKeyFile(path)
	if err != nil {
		return nil, err
	}
	return keyFile.Key()
}

func parseValue(wei, ether string) (ledger.Amount, error) {
	switch {
	case wei != "":
		return ledger.ParseAmount(wei)
	case ether != "":
		return ledger.ParseEther(ether)
	default:
		return ledger.Zero, nil
	}
}
