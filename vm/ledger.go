package vm

import (
	"errors"
	"fmt"

	"github.com/ledgerline/ledgerd/storage"
	"github.com/shopspring/decimal"
)

const (
	SystemDatabase = "system"
	BalanceTable   = "balance"
	// SystemAddress holds the value attached to transactions until a handler pays it out.
	SystemAddress = "0"
)

// Ledger keeps native balances. Balances are stored as canonical decimal strings and only
// Mint and Burn change the total.
type Ledger struct {
	kv *storage.KeyValue
}

// CreateLedger creates the balance table on a fresh view.
func CreateLedger(view *storage.Storage) (*Ledger, error) {
	kv, err := view.CreateKeyValueWithDBName(SystemDatabase, BalanceTable)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	return &Ledger{kv: kv}, nil
}

// OpenLedger opens the balance table of view, writable unless the view is read-only.
func OpenLedger(view *storage.Storage) (*Ledger, error) {
	var (
		kv  *storage.KeyValue
		err error
	)
	if view.ReadOnly() {
		kv, err = view.GetKeyValue(SystemDatabase, BalanceTable)
	} else {
		kv, err = view.GetReadWritableKeyValue(SystemDatabase, BalanceTable)
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{kv: kv}, nil
}

// Balance returns the balance of address. Unknown addresses hold zero.
func (l *Ledger) Balance(address string) (decimal.Decimal, error) {
	value, err := l.kv.Get(address)
	if errors.Is(err, storage.ErrNotFound) {
		return decimal.Zero, nil
	} else if err != nil {
		return decimal.Decimal{}, err
	}

	var s string
	if err = value.Decode(&s); err != nil {
		return decimal.Decimal{}, fmt.Errorf("balance of %s: %w", address, err)
	}
	return decimal.NewFromString(s)
}

func (l *Ledger) setBalance(address string, amount decimal.Decimal) error {
	return l.kv.Set(address, amount.String())
}

func checkAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative amount %s", ErrInvalidParam, amount)
	}
	return nil
}

// Transfer moves amount from one account to another. Nothing changes when from cannot cover
// amount.
func (l *Ledger) Transfer(from, to string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	fromBalance, err := l.Balance(from)
	if err != nil {
		return err
	}
	if fromBalance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, fromBalance, amount)
	}
	if from == to || amount.IsZero() {
		return nil
	}
	toBalance, err := l.Balance(to)
	if err != nil {
		return err
	}

	if err = l.setBalance(from, fromBalance.Sub(amount)); err != nil {
		return err
	}
	return l.setBalance(to, toBalance.Add(amount))
}

// Mint credits address with newly created amount.
func (l *Ledger) Mint(address string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	balance, err := l.Balance(address)
	if err != nil {
		return err
	}
	return l.setBalance(address, balance.Add(amount))
}

// Burn destroys amount held by address.
func (l *Ledger) Burn(address string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	balance, err := l.Balance(address)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, burns %s", ErrInsufficientBalance, address, balance, amount)
	}
	return l.setBalance(address, balance.Sub(amount))
}
