package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgentVault-Chain/sdk/go/agentvault"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(agentvault.DeploymentReceipt{
			DeploymentID:    1,
			AgentID:         "agent-demo",
			OwnerID:         "demo",
			ContractAddress: "0:0000000000000000000000000000000000000000000000000000000000000001",
			FeePaid:         1000,
			DeployedAt:      time.Now().Unix(),
			ContractVersion: "v1.0.0",
		})
	})
	mux.HandleFunc("GET /api/v1/deployments", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]agentvault.DeploymentReceipt{{
			DeploymentID: 1,
			AgentID:      "agent-demo",
			OwnerID:      r.URL.Query().Get("owner"),
		}})
	})
	mux.HandleFunc("GET /api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agentvault.Stats{
			TotalAgents:         1,
			ActiveAgents:        1,
			Version:             "v1.0.0",
			AcceptingDeployment: true,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := agentvault.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receipt, err := client.DeployAgent(ctx, agentvault.AgentDeployment{
		OwnerID:      "demo",
		OwnerAddress: "0:0000000000000000000000000000000000000000000000000000000000000002",
		WalletMode:   "non_custodial",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("deployed agent %s (deployment #%d, fee %d)\n", receipt.AgentID, receipt.DeploymentID, receipt.FeePaid)

	receipts, err := client.ListDeployments(ctx, "demo")
	if err != nil {
		panic(err)
	}
	fmt.Printf("owner demo has %d deployment(s)\n", len(receipts))

	stats, err := client.GetStats(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("factory version %s, accepting=%v\n", stats.Version, stats.AcceptingDeployment)
}
