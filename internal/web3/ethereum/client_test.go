package ethereum

import (
	"context"
	"math/big"
	"testing"

	"AgentVault-Chain/internal/web3"
)

func TestNewClientRequiresRPCURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(context.Background(), Config{Name: "mainnet"}); err == nil {
		t.Fatal("expected error for missing RPC URL")
	}
	if _, err := NewClient(context.Background(), Config{RPCURL: "   "}); err == nil {
		t.Fatal("expected error for blank RPC URL")
	}
}

func TestClosedClientRejectsCalls(t *testing.T) {
	t.Parallel()

	client := &Client{}
	if _, err := client.FetchChainSnapshot(context.Background()); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.SubmitDeployment(context.Background(), "0:ab", []byte{0x01}, 0); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
}

func TestToHexBig(t *testing.T) {
	t.Parallel()

	if got := toHexBig(nil); got != "0x0" {
		t.Fatalf("unexpected nil rendering %s", got)
	}
	if got := toHexBig(big.NewInt(1337)); got != "0x539" {
		t.Fatalf("unexpected rendering %s", got)
	}
}

var _ web3.Client = (*Client)(nil)
