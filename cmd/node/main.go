package main

import (
	"os"

	"github.com/replog-io/replog/pkg/config"
	"github.com/replog-io/replog/pkg/metrics"
	"github.com/replog-io/replog/pkg/node"
	"github.com/replog-io/replog/pkg/offset"
	"github.com/replog-io/replog/pkg/record"
	"github.com/replog-io/replog/pkg/transport"
	"github.com/replog-io/replog/util"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		util.Fatal("Failed to load config: %v", err)
	}

	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	}

	// Initialization; the fabric speaks on stdin/stdout, logs go to stderr.
	fabric := transport.NewFabric(os.Stdin, os.Stdout, cfg.InboxBufferSize)
	log := record.NewLog()
	watermarks := offset.NewManager()
	n := node.NewNode(cfg, fabric, log, watermarks)

	util.Info("Starting replog node (commit timeout %dms)", cfg.CommitTimeoutMS)
	if err := n.Run(); err != nil {
		util.Fatal("Node failed: %v", err)
	}
}
