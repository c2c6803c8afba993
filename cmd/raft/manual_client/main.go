package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"raft-log-core/internal/raft"
	"raft-log-core/internal/raft/server"
)

const usage = `Usage: manual_client [flags] <command> [args]

Commands:
  append <term> <data> [<prevIndex> <prevTerm>]
  commit <leaderCommit>
  advance <term>
  term <index>
  info

Flags:
`

func main() {
	// Command line flags
	serverAddr := flag.String("server", "localhost:50051", "Server address to connect to")
	configPath := flag.String("config", "", "Config file listing peers, used together with -node")
	target := flag.String("node", "", "ID of the peer from -config to call")
	timeout := flag.Duration("timeout", 5*time.Second, "Timeout of the whole call")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	peerID := raft.NodeID("target")
	peers := map[raft.NodeID]server.ServerAddress{peerID: server.ServerAddress(*serverAddr)}
	if *configPath != "" {
		cfg, err := server.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if *target == "" {
			log.Fatalf("-node is required together with -config")
		}
		peerID = raft.NodeID(*target)
		peers = cfg.GetPeers()
		if _, ok := peers[peerID]; !ok {
			log.Fatalf("Node %s is not listed in %s", peerID, *configPath)
		}
	}

	client := server.NewClient("manual-client", peers, server.WithRPCTimeout(*timeout))
	defer client.CloseAllClients()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := run(ctx, client, peerID, flag.Args())
	if err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
	fmt.Println(string(out))
}

func run(ctx context.Context, client *server.Client, peerID raft.NodeID, args []string) (any, error) {
	cmd, args := args[0], args[1:]

	switch cmd {
	case "append":
		if len(args) != 2 && len(args) != 4 {
			return nil, fmt.Errorf("append takes <term> <data> [<prevIndex> <prevTerm>]")
		}
		term, err := parseInt(args[0])
		if err != nil {
			return nil, err
		}
		var prev *raft.PrevLog
		if len(args) == 4 {
			prevIndex, err := parseInt(args[2])
			if err != nil {
				return nil, err
			}
			prevTerm, err := parseInt(args[3])
			if err != nil {
				return nil, err
			}
			prev = &raft.PrevLog{Index: prevIndex, Term: prevTerm}
		}
		return client.AppendEntry(ctx, peerID, term, []byte(args[1]), prev)

	case "commit":
		n, err := singleInt(cmd, args)
		if err != nil {
			return nil, err
		}
		return client.CommitUpTo(ctx, peerID, n)

	case "advance":
		n, err := singleInt(cmd, args)
		if err != nil {
			return nil, err
		}
		advanced, term, err := client.AdvanceTerm(ctx, peerID, n)
		if err != nil {
			return nil, err
		}
		return map[string]any{"advanced": advanced, "current_term": term}, nil

	case "term":
		n, err := singleInt(cmd, args)
		if err != nil {
			return nil, err
		}
		term, err := client.TermAt(ctx, peerID, n)
		if err != nil {
			return nil, err
		}
		return map[string]any{"index": n, "term": term}, nil

	case "info":
		return client.Snapshot(ctx, peerID)

	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func singleInt(cmd string, args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s takes exactly one integer argument", cmd)
	}
	return parseInt(args[0])
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return n, nil
}
