package events

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/minkyow/trademirror/pkg/core"
)

// ErrDecode wraps all malformed-log failures. A decode failure is logged
// and skipped by the listener; it never halts the subscription.
var ErrDecode = errors.New("event decode failed")

// OrderMatched is the typed form of the ledger contract's OrderMatched
// log. The contract assigns its own numeric order ids; the string ids
// echo the order ids this backend submitted, which is what settlement
// keys on.
type OrderMatched struct {
	ChainBuyID  *big.Int
	ChainSellID *big.Int
	Buyer       common.Address
	Seller      common.Address
	Trade       core.MatchedTrade
}

// orderMatchedArgs is the ABI layout of the event's data segment:
// (uint256 buyOrderId, uint256 sellOrderId, string symbol, uint256 qty,
// uint256 price, address buyer, string buyerUserId, string buyerOrderId,
// address seller, string sellerUserId, string sellerOrderId)
var orderMatchedArgs abi.Arguments

func init() {
	uint256Ty, _ := abi.NewType("uint256", "", nil)
	stringTy, _ := abi.NewType("string", "", nil)
	addressTy, _ := abi.NewType("address", "", nil)

	orderMatchedArgs = abi.Arguments{
		{Name: "buyOrderId", Type: uint256Ty},
		{Name: "sellOrderId", Type: uint256Ty},
		{Name: "symbol", Type: stringTy},
		{Name: "quantity", Type: uint256Ty},
		{Name: "price", Type: uint256Ty},
		{Name: "buyer", Type: addressTy},
		{Name: "buyerUserId", Type: stringTy},
		{Name: "buyerOrderId", Type: stringTy},
		{Name: "seller", Type: addressTy},
		{Name: "sellerUserId", Type: stringTy},
		{Name: "sellerOrderId", Type: stringTy},
	}
}

// DecodeLog decodes a raw ledger log entry into an OrderMatched event.
// Field counts, types and value ranges are all validated; anything off
// returns ErrDecode rather than panicking downstream.
func DecodeLog(lg types.Log) (OrderMatched, error) {
	var ev OrderMatched

	vals, err := orderMatchedArgs.Unpack(lg.Data)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(vals) != len(orderMatchedArgs) {
		return ev, fmt.Errorf("%w: got %d fields, want %d", ErrDecode, len(vals), len(orderMatchedArgs))
	}

	chainBuyID, ok0 := vals[0].(*big.Int)
	chainSellID, ok1 := vals[1].(*big.Int)
	symbol, ok2 := vals[2].(string)
	qty, ok3 := vals[3].(*big.Int)
	price, ok4 := vals[4].(*big.Int)
	buyer, ok5 := vals[5].(common.Address)
	buyerUserID, ok6 := vals[6].(string)
	buyerOrderID, ok7 := vals[7].(string)
	seller, ok8 := vals[8].(common.Address)
	sellerUserID, ok9 := vals[9].(string)
	sellerOrderID, ok10 := vals[10].(string)
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9 && ok10) {
		return ev, fmt.Errorf("%w: unexpected field types", ErrDecode)
	}

	if symbol == "" {
		return ev, fmt.Errorf("%w: empty symbol", ErrDecode)
	}
	if buyerUserID == "" || sellerUserID == "" {
		return ev, fmt.Errorf("%w: empty counterparty user id", ErrDecode)
	}
	if buyerOrderID == "" || sellerOrderID == "" {
		return ev, fmt.Errorf("%w: empty counterparty order id", ErrDecode)
	}
	if !qty.IsInt64() || qty.Sign() <= 0 {
		return ev, fmt.Errorf("%w: quantity out of range: %s", ErrDecode, qty)
	}
	if !price.IsInt64() || price.Sign() <= 0 {
		return ev, fmt.Errorf("%w: price out of range: %s", ErrDecode, price)
	}

	ev.ChainBuyID = chainBuyID
	ev.ChainSellID = chainSellID
	ev.Buyer = buyer
	ev.Seller = seller
	ev.Trade = core.MatchedTrade{
		BuyOrderID:  buyerOrderID,
		SellOrderID: sellerOrderID,
		Symbol:      symbol,
		Qty:         qty.Int64(),
		Price:       price.Int64(),
		BuyerID:     buyerUserID,
		SellerID:    sellerUserID,
	}
	return ev, nil
}

// EncodeLogData packs an OrderMatched event back into ABI data bytes.
// Used by tests and the local devnet fixture to fabricate ledger logs.
func EncodeLogData(ev OrderMatched) ([]byte, error) {
	return orderMatchedArgs.Pack(
		ev.ChainBuyID,
		ev.ChainSellID,
		ev.Trade.Symbol,
		new(big.Int).SetInt64(ev.Trade.Qty),
		new(big.Int).SetInt64(ev.Trade.Price),
		ev.Buyer,
		ev.Trade.BuyerID,
		ev.Trade.BuyOrderID,
		ev.Seller,
		ev.Trade.SellerID,
		ev.Trade.SellOrderID,
	)
}
