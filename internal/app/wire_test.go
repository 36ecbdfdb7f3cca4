package app

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/binarypool/internal/config"
	"github.com/alanyoungcy/binarypool/internal/domain"
)

func TestEngineOptions(t *testing.T) {
	cfg := config.Defaults().Engine
	cfg.ContractAddress = "0x00000000000000000000000000000000000000c0"
	cfg.OracleAddress = "0x00000000000000000000000000000000000000a1"
	cfg.DepositAsset = "neo"
	cfg.SettleBatchSize = 25

	opts, err := engineOptions(cfg)
	if err != nil {
		t.Fatalf("engineOptions: %v", err)
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("options invalid: %v", err)
	}

	contract := common.HexToAddress(cfg.ContractAddress)
	if opts.ContractAddress != contract {
		t.Errorf("contract = %s", opts.ContractAddress.Hex())
	}
	if opts.ContractOwner != contract {
		t.Errorf("owner should default to contract, got %s", opts.ContractOwner.Hex())
	}
	if opts.DepositAsset != domain.AssetNEO {
		t.Errorf("deposit asset = %v, want NEO", opts.DepositAsset)
	}
	if opts.SettleBatchSize != 25 || opts.CancelPenalty != 3 {
		t.Errorf("unexpected options %+v", opts)
	}

	cfg.ContractOwner = "0x00000000000000000000000000000000000000b2"
	opts, err = engineOptions(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.ContractOwner != common.HexToAddress(cfg.ContractOwner) {
		t.Errorf("owner = %s", opts.ContractOwner.Hex())
	}

	cfg.DepositAsset = "BTC"
	if _, err := engineOptions(cfg); err == nil {
		t.Error("expected error for unknown asset")
	}
}
