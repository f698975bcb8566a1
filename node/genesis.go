package node

import (
	"context"
	"errors"

	"github.com/ledgerline/ledgerd/blockchain"
)

// buildGenesis creates the genesis state from genesisPath unless the chain already has one.
func buildGenesis(ctx context.Context, genesisPath string, chain *blockchain.Chain) (*blockchain.StoredBlock, error) {
	head, err := chain.Head()
	if err == nil || !errors.Is(err, blockchain.ErrBlockNotFound) {
		return head, err
	}
	if genesisPath == "" {
		return nil, nil
	}

	g, err := blockchain.LoadGenesis(genesisPath)
	if err != nil {
		return nil, err
	}
	if _, err = chain.CreateGenesis(ctx, g); err != nil {
		return nil, err
	}
	return chain.Head()
}
