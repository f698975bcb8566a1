package blockchain

import (
	"fmt"
	"os"

	"github.com/ledgerline/ledgerd/validator"
	"github.com/ledgerline/ledgerd/vm"
	"gopkg.in/yaml.v3"
)

// Genesis describes the state every node starts from.
type Genesis struct {
	Coinbase    string          `yaml:"coinbase" validate:"omitempty,address"`
	Timestamp   int64           `yaml:"timestamp" validate:"min=0"`
	PreBalances []vm.Allocation `yaml:"preBalances" validate:"dive"`
}

// LoadGenesis reads a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g := new(Genesis)
	if err = yaml.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("parse genesis %s: %w", path, err)
	}
	if err = g.Validate(); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return g, nil
}

func (g *Genesis) Validate() error {
	return validator.Validator().Struct(g)
}
