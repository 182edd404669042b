package feed

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const (
	// splTokenAccountLen is the size of an SPL token account; the balance
	// sits at a fixed offset after mint and owner.
	splTokenAccountLen = 165
	splAmountOffset    = 64

	// Whirlpool state layout: liquidity and sqrt-price follow the
	// discriminator, config, bumps and fee fields.
	whirlpoolLiquidityOffset = 49
	whirlpoolSqrtPriceOffset = 65
	whirlpoolMinLen          = 81

	// Raydium CLMM PoolState layout: liquidity and sqrt-price follow the
	// mint, vault and observation pubkeys.
	clmmLiquidityOffset = 237
	clmmSqrtPriceOffset = 253
	clmmMinLen          = 269
)

// parseTokenAmount reads the balance from raw SPL token account data.
func parseTokenAmount(data []byte) (uint64, error) {
	if len(data) < splTokenAccountLen {
		return 0, fmt.Errorf("feed: token account data %d bytes, want %d", len(data), splTokenAccountLen)
	}
	return binary.LittleEndian.Uint64(data[splAmountOffset : splAmountOffset+8]), nil
}

// parseConcentratedState reads current liquidity and sqrt-price (Q64.64)
// from a concentrated-liquidity pool account. The field offsets depend on
// the owning program.
func parseConcentratedState(dex domain.DexKind, data []byte) (liquidity, sqrtPriceX64 *big.Int, err error) {
	var liqOff, priceOff, minLen int
	switch dex {
	case domain.DexOrca:
		liqOff, priceOff, minLen = whirlpoolLiquidityOffset, whirlpoolSqrtPriceOffset, whirlpoolMinLen
	case domain.DexRaydiumClmm:
		liqOff, priceOff, minLen = clmmLiquidityOffset, clmmSqrtPriceOffset, clmmMinLen
	default:
		return nil, nil, fmt.Errorf("feed: %s is not a concentrated-liquidity kind", dex)
	}
	if len(data) < minLen {
		return nil, nil, fmt.Errorf("feed: %s pool account data %d bytes, want at least %d", dex, len(data), minLen)
	}
	return readUint128(data[liqOff:]), readUint128(data[priceOff:]), nil
}

// readUint128 decodes a little-endian u128 from the first 16 bytes.
func readUint128(data []byte) *big.Int {
	lo := binary.LittleEndian.Uint64(data[0:8])
	hi := binary.LittleEndian.Uint64(data[8:16])
	v := new(big.Int).SetUint64(hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(lo))
}

// virtualReserves converts concentrated-liquidity state into the reserve
// pair of the locally equivalent constant-product pool:
//
//	base  = liquidity / sqrtPrice
//	quote = liquidity * sqrtPrice
//
// with sqrtPrice held in Q64.64. The conversion is exact only at the
// current tick; quoting stays inside the active range. Values beyond the
// uint64 range are clamped.
func virtualReserves(liquidity, sqrtPriceX64 *big.Int) (base, quote uint64, err error) {
	if sqrtPriceX64.Sign() == 0 {
		return 0, 0, fmt.Errorf("feed: zero sqrt price")
	}
	if liquidity.Sign() == 0 {
		return 0, 0, nil
	}

	b := new(big.Int).Lsh(liquidity, 64)
	b.Quo(b, sqrtPriceX64)

	q := new(big.Int).Mul(liquidity, sqrtPriceX64)
	q.Rsh(q, 64)

	return clampUint64(b), clampUint64(q), nil
}

func clampUint64(v *big.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}
