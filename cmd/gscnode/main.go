package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gsc-network/gscnode/pkg/config"
	"github.com/gsc-network/gscnode/pkg/network"
	syncmgr "github.com/gsc-network/gscnode/pkg/network/sync"
	"github.com/gsc-network/gscnode/pkg/rpc"
	"github.com/gsc-network/gscnode/pkg/storage"
)

func main() {
	app := cli.NewApp()
	app.Name = "gscnode"
	app.Usage = "GSC P2P blockchain sync node"
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run a node",
			Action: serve,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "port, p", Usage: "P2P listen port"},
				cli.IntFlag{Name: "rpcport", Usage: "RPC listen port (0 disables)"},
				cli.StringFlag{Name: "peers", Usage: "comma-separated bootstrap endpoints"},
				cli.IntFlag{Name: "maxpeers", Usage: "target connected-peer count"},
				cli.BoolFlag{Name: "seed-data", Usage: "populate the chain with demo blocks"},
				cli.StringFlag{Name: "loglevel", Usage: "debug, info, warn or error"},
			},
		},
		{
			Name:   "status",
			Usage:  "show a running node's status",
			Action: status,
			Flags:  []cli.Flag{rpcFlag()},
		},
		{
			Name:      "connect",
			Usage:     "ask a running node to dial a peer",
			ArgsUsage: "<host> <port>",
			Action:    connect,
			Flags:     []cli.Flag{rpcFlag()},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rpcFlag() cli.Flag {
	return cli.StringFlag{
		Name:  "rpc",
		Usage: "RPC base URL of the node",
		Value: "http://localhost:8334",
	}
}

func serve(c *cli.Context) error {
	cfg := config.LoadFromEnv()
	if c.IsSet("port") {
		cfg.P2PPort = c.Int("port")
	}
	if c.IsSet("rpcport") {
		cfg.RPCPort = c.Int("rpcport")
	}
	if c.IsSet("peers") {
		cfg.SeedNodes = strings.Split(c.String("peers"), ",")
	}
	if c.IsSet("maxpeers") {
		cfg.MaxPeers = c.Int("maxpeers")
	}
	if c.IsSet("loglevel") {
		cfg.LogLevel = c.String("loglevel")
	}
	if c.Bool("seed-data") {
		cfg.SeedData = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	chain, err := storage.NewChainStore()
	if err != nil {
		return fmt.Errorf("failed to create chain store: %w", err)
	}
	defer chain.Close()

	if cfg.SeedData {
		if err := storage.SeedChain(chain, 3, 3); err != nil {
			return err
		}
		log.Info("demo data seeded",
			zap.Int("chainHeight", chain.Height()))
	}

	node, err := network.NewNode(network.Config{
		Port:      cfg.P2PPort,
		NodeID:    cfg.NodeID,
		Bootstrap: cfg.SeedNodes,
		MaxPeers:  cfg.MaxPeers,
	}, log)
	if err != nil {
		return err
	}

	engine := syncmgr.NewManager(chain, node.ID(), log)
	node.SetHandler(engine)

	if err := node.Start(); err != nil {
		return err
	}
	defer node.Stop()
	defer engine.Stop()

	var rpcSrv *rpc.Server
	if cfg.RPCPort > 0 {
		rpcSrv = rpc.NewServer(node, engine, cfg.GetRPCAddress(), log)
		go func() {
			if err := rpcSrv.Start(); err != nil {
				log.Error("rpc server failed", zap.Error(err))
			}
		}()
		defer rpcSrv.Stop()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return nil
}

func status(c *cli.Context) error {
	client := rpc.NewClient(c.String("rpc"))
	st, err := client.Status()
	if err != nil {
		return err
	}

	fmt.Printf("Node ID:          %s\n", st.Node.NodeID)
	fmt.Printf("Port:             %d\n", st.Node.Port)
	fmt.Printf("Running:          %v\n", st.Node.Running)
	fmt.Printf("Connected Peers:  %d\n", st.Node.ConnectedPeers)
	fmt.Printf("Known Peers:      %d\n", st.Node.KnownPeers)
	fmt.Printf("Peer List:        %v\n", st.Node.PeerList)
	fmt.Printf("Sync Mode:        %s\n", st.Sync.Mode)
	fmt.Printf("Chain Height:     %d\n", st.Sync.ChainHeight)
	fmt.Printf("Chain Tip:        %s\n", st.Sync.ChainTip.Short())
	fmt.Printf("Headers:          %d\n", st.Sync.HeadersCount)
	fmt.Printf("Blocks:           %d\n", st.Sync.BlocksCount)
	fmt.Printf("Missing Blocks:   %d\n", st.Sync.MissingBlocks)
	fmt.Printf("Mempool:          %d\n", st.Sync.MempoolSize)
	fmt.Printf("Syncing With:     %v\n", st.Sync.SyncingWith)
	return nil
}

func connect(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: gscnode connect <host> <port>")
	}
	host := c.Args().Get(0)
	port, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid port: %q", c.Args().Get(1))
	}

	client := rpc.NewClient(c.String("rpc"))
	ok, err := client.Connect(host, port)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("failed to connect to %s:%d", host, port)
	}
	fmt.Printf("Connected to %s:%d\n", host, port)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %q", level)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
