package builtin

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/vm"
	"github.com/shopspring/decimal"
)

const (
	hashBidding = "biding"
	hashFinish  = "finish"
)

type publishParams struct {
	Name     string `mapstructure:"name" validate:"required"`
	Duration uint64 `mapstructure:"duration" validate:"min=1"`
}

type nameParams struct {
	Name string `mapstructure:"name" validate:"required"`
}

type bidRecord struct {
	Caller string `cbor:"caller"`
	Value  string `cbor:"value"`
	Tx     string `cbor:"tx"`
}

type auctionRecord struct {
	Publisher string `cbor:"publisher"`
	Finish    uint64 `cbor:"finish"`
	Owner     string `cbor:"owner,omitempty"`
	Value     string `cbor:"value,omitempty"`
}

// Auction describes a running or settled auction.
type Auction struct {
	Name      string           `json:"name"`
	Publisher string           `json:"publisher"`
	Finish    uint64           `json:"finish"`
	Owner     string           `json:"owner,omitempty"`
	Value     *decimal.Decimal `json:"value,omitempty"`
	Bidder    string           `json:"bidder,omitempty"`
	BidValue  *decimal.Decimal `json:"bidValue,omitempty"`
	BidTx     string           `json:"bidTx,omitempty"`
}

func registerAuctions(r *vm.Registry) {
	vm.RegisterTx(r, "publish", publish)
	vm.RegisterTx(r, "bid", bid)
	r.AddPostBlockListener("auction", nil, settleAuctions)

	vm.RegisterView(r, "GetBidInfo", getBidInfo)
	vm.RegisterView(r, "GetAllBiding", func(ctx *vm.ViewContext, _ struct{}) ([]Auction, error) {
		return listAuctions(ctx, hashBidding)
	})
	vm.RegisterView(r, "GetAllFinished", func(ctx *vm.ViewContext, _ struct{}) ([]Auction, error) {
		return listAuctions(ctx, hashFinish)
	})
}

func parseAmount(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func heightKey(height uint64) string {
	return strconv.FormatUint(height, 10)
}

func auctionTables(ctx interface {
	KeyValue(dbName, kvName string) (*storage.KeyValue, error)
},
) (bids, infos *storage.KeyValue, err error) {
	if bids, err = ctx.KeyValue(vm.UserDatabase, BidTable); err != nil {
		return nil, nil, err
	}
	if infos, err = ctx.KeyValue(vm.UserDatabase, BidInfoTable); err != nil {
		return nil, nil, err
	}
	return bids, infos, nil
}

// publish opens an auction for name. The attached value is the opening bid.
func publish(ctx *vm.TxContext, p publishParams) error {
	bids, infos, err := auctionTables(ctx)
	if err != nil {
		return err
	}
	if _, err = bids.Get(p.Name); err == nil {
		return fmt.Errorf("%w: auction %s", vm.ErrDuplicateResource, p.Name)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if _, err = infos.HGet(hashFinish, p.Name); err == nil {
		return fmt.Errorf("%w: auction %s", vm.ErrDuplicateResource, p.Name)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	finish := ctx.Block().Height + p.Duration
	if err = infos.HSet(hashBidding, p.Name, auctionRecord{Publisher: ctx.Caller(), Finish: finish}); err != nil {
		return err
	}
	if err = bids.Set(p.Name, newBid(ctx)); err != nil {
		return err
	}
	return bids.RPush(heightKey(finish), p.Name)
}

func readBid(bids *storage.KeyValue, name string) (bidRecord, decimal.Decimal, error) {
	var record bidRecord
	value, err := bids.Get(name)
	if err != nil {
		return record, decimal.Decimal{}, fmt.Errorf("auction %s: %w", name, err)
	}
	if err = value.Decode(&record); err != nil {
		return record, decimal.Decimal{}, err
	}
	amount, err := decimal.NewFromString(record.Value)
	return record, amount, err
}

// bid replaces the highest bid of a running auction and refunds the previous bidder.
func bid(ctx *vm.TxContext, p nameParams) error {
	bids, _, err := auctionTables(ctx)
	if err != nil {
		return err
	}
	last, lastValue, err := readBid(bids, p.Name)
	if err != nil {
		return err
	}
	if !ctx.Value().GreaterThan(lastValue) {
		return fmt.Errorf("%w: bid %s does not beat %s", vm.ErrInsufficientBalance, ctx.Value(), lastValue)
	}
	if err = ctx.TransferTo(last.Caller, lastValue); err != nil {
		return err
	}
	return bids.Set(p.Name, newBid(ctx))
}

func newBid(ctx *vm.TxContext) bidRecord {
	return bidRecord{Caller: ctx.Caller(), Value: ctx.Value().String(), Tx: ctx.TxHash().String()}
}

// settleAuctions closes every auction finishing at this height. The publisher receives the
// winning bid. An auction nobody bid on returns the opening bid to the publisher.
func settleAuctions(ctx *vm.EventContext) error {
	bids, infos, err := auctionTables(ctx)
	if err != nil {
		return err
	}
	key := heightKey(ctx.Block().Height)
	for {
		value, err := bids.RPop(key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		var name string
		if err = value.Decode(&name); err != nil {
			return err
		}
		if err = settle(ctx, bids, infos, name); err != nil {
			return err
		}
	}
}

func settle(ctx *vm.EventContext, bids, infos *storage.KeyValue, name string) error {
	raw, err := infos.HGet(hashBidding, name)
	if err != nil {
		return fmt.Errorf("auction %s: %w", name, err)
	}
	var info auctionRecord
	if err = raw.Decode(&info); err != nil {
		return err
	}
	last, lastValue, err := readBid(bids, name)
	if err != nil {
		return err
	}

	if err = ctx.TransferTo(info.Publisher, lastValue); err != nil {
		return err
	}
	if last.Caller != info.Publisher {
		info.Owner = last.Caller
		info.Value = lastValue.String()
	}

	if err = infos.HDel(hashBidding, name); err != nil {
		return err
	}
	if err = infos.HSet(hashFinish, name, info); err != nil {
		return err
	}
	if err = bids.Delete(name); err != nil {
		return err
	}
	ctx.Logger().Debugw("Auction settled", "name", name, "owner", info.Owner, "height", ctx.Block().Height)
	return ctx.Emit("auctionSettled", map[string]any{"name": name, "owner": info.Owner, "value": info.Value})
}

func toAuction(name string, info auctionRecord) (Auction, error) {
	value, err := parseAmount(info.Value)
	if err != nil {
		return Auction{}, err
	}
	return Auction{Name: name, Publisher: info.Publisher, Finish: info.Finish, Owner: info.Owner, Value: value}, nil
}

func withBid(a *Auction, bids *storage.KeyValue) error {
	last, lastValue, err := readBid(bids, a.Name)
	if err != nil {
		return err
	}
	a.Bidder, a.BidValue, a.BidTx = last.Caller, &lastValue, last.Tx
	return nil
}

func getBidInfo(ctx *vm.ViewContext, p nameParams) (*Auction, error) {
	bids, infos, err := auctionTables(ctx)
	if err != nil {
		return nil, err
	}

	hash := hashBidding
	if _, err = bids.Get(p.Name); errors.Is(err, storage.ErrNotFound) {
		hash = hashFinish
	} else if err != nil {
		return nil, err
	}

	raw, err := infos.HGet(hash, p.Name)
	if err != nil {
		return nil, fmt.Errorf("auction %s: %w", p.Name, err)
	}
	var info auctionRecord
	if err = raw.Decode(&info); err != nil {
		return nil, err
	}
	a, err := toAuction(p.Name, info)
	if err != nil {
		return nil, err
	}
	if hash == hashBidding {
		if err = withBid(&a, bids); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func listAuctions(ctx *vm.ViewContext, hash string) ([]Auction, error) {
	bids, infos, err := auctionTables(ctx)
	if err != nil {
		return nil, err
	}
	all, err := infos.HGetAll(hash)
	if err != nil {
		return nil, err
	}

	out := make([]Auction, 0, len(all))
	for name, raw := range all {
		var info auctionRecord
		if err = raw.Decode(&info); err != nil {
			return nil, err
		}
		a, err := toAuction(name, info)
		if err != nil {
			return nil, err
		}
		if hash == hashBidding {
			if err = withBid(&a, bids); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Auction) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}
