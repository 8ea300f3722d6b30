// torntrainer-mcp exposes trainer state over the Model Context Protocol on
// stdio. Logs go to a file sink only; stdout belongs to the protocol.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tornwatch/torntrainer/pkg/logging"
	"github.com/tornwatch/torntrainer/pkg/mcp"
	"github.com/tornwatch/torntrainer/pkg/store"
	"github.com/tornwatch/torntrainer/pkg/torn"
	"github.com/tornwatch/torntrainer/pkg/trainer"
)

func main() {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "torntrainer-mcp: %v\n", err)
		os.Exit(1)
	}
	dbPath := os.Getenv("TORN_DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(cwd, "torn.db")
	}

	log := zap.NewNop()
	if dir := os.Getenv("TORN_LOG_DIR"); dir != "" {
		fileLog, err := logging.New(logging.Config{Dir: dir, Level: os.Getenv("TORN_LOG_LEVEL")})
		if err == nil {
			log = fileLog
			defer log.Sync()
		}
	}

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "torntrainer-mcp: failed to open %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer st.Close()

	// The recommendations tool needs a live client; without a credential the
	// server still serves snapshot and audit resources.
	var tr *trainer.Trainer
	if apiKey := os.Getenv("TORN_API_KEY"); apiKey != "" {
		client := torn.New(torn.Config{
			APIKey: apiKey,
			UserID: os.Getenv("TORN_USER_ID"),
			Logger: log,
		}, st, st)
		defer client.Close()
		tr = trainer.New(client, st, log)
	}

	if err := mcp.NewServer(st, tr).Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "torntrainer-mcp: %v\n", err)
		os.Exit(1)
	}
}
